package publisher

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopTransport only logs. It backs local runs where no stream or queue is
// configured; the fallback poller picks the orders up instead.
type NoopTransport struct {
	logger zerolog.Logger
}

func NewNoopTransport(logger zerolog.Logger) *NoopTransport {
	return &NoopTransport{logger: logger.With().Str("component", "publisher").Logger()}
}

func (t *NoopTransport) Send(_ context.Context, key string, body []byte) error {
	t.logger.Debug().Str("order_id", key).Int("bytes", len(body)).Msg("no transport configured, dropping notification")
	return nil
}

func (t *NoopTransport) Close() error { return nil }
