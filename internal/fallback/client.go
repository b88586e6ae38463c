package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/orders"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/tracing"
)

// OrdersAPI is the remote order surface the poller works against.
type OrdersAPI interface {
	ListOrders(ctx context.Context) ([]orders.Order, error)
	// GetOrder returns (nil, nil) when the order does not exist.
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	// UpdateStatus moves the order to status if it is currently in expected.
	UpdateStatus(ctx context.Context, id string, status, expected orders.Status) error
}

// DefaultRequestTimeout bounds a single call to the orders API.
const DefaultRequestTimeout = 10 * time.Second

// HTTPClient talks to the orders API over HTTP and propagates trace context.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	tracer     trace.Tracer
}

type ClientOption func(*HTTPClient)

// WithRequestTimeout overrides DefaultRequestTimeout. A timed-out call is a
// transient failure and is retried by the poller's policy.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: DefaultRequestTimeout,
		tracer:  tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type statusUpdate struct {
	Status         orders.Status `json:"status"`
	ExpectedStatus orders.Status `json:"expectedStatus,omitempty"`
}

func (c *HTTPClient) ListOrders(ctx context.Context) ([]orders.Order, error) {
	var out []orders.Order
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	var out orders.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &out)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UpdateStatus(ctx context.Context, id string, status, expected orders.Status) error {
	body := statusUpdate{Status: status, ExpectedStatus: expected}
	return c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(id)+"/status", body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", method),
	)

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperr.Invalid(fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return apperr.Invalid(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperr.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := statusError(method, path, resp.StatusCode, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Invalid(fmt.Errorf("%s %s: decode response: %w", method, path, err))
	}
	return nil
}

// statusError classifies a response the same way the API classified the
// failure that produced it.
func statusError(method, path string, code int, body []byte) error {
	err := fmt.Errorf("%s %s returned %d: %s", method, path, code, bytes.TrimSpace(body))
	switch {
	case code == http.StatusNotFound:
		return apperr.NotFound(err)
	case code == http.StatusConflict:
		return apperr.Conflict(err)
	case code == http.StatusTooManyRequests, code >= 500:
		return apperr.Transient(err)
	default:
		return apperr.Invalid(err)
	}
}

var _ OrdersAPI = (*HTTPClient)(nil)
