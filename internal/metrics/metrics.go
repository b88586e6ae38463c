// Package metrics counts pipeline events. The long-running binaries expose
// Prometheus counters; the Lambda worker ships CloudWatch datums.
package metrics

// Sources passed to Processed and Skipped.
const (
	SourceStream   = "stream"
	SourceFallback = "fallback"
	SourceQueue    = "queue"
)

// Recorder is implemented by every metrics backend.
type Recorder interface {
	OrderCreated()
	PublishFailed()
	Processed(source string)
	Skipped(source, reason string)
	CheckpointCommitted(segment string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrderCreated()              {}
func (Nop) PublishFailed()             {}
func (Nop) Processed(string)           {}
func (Nop) Skipped(string, string)     {}
func (Nop) CheckpointCommitted(string) {}

var _ Recorder = Nop{}
