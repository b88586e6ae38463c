package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/aws"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerCall = 1000

// CloudWatch buffers datums in memory until Flush. A Lambda handler calls
// Flush once at the end of each invocation.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time

	mu     sync.Mutex
	datums []types.MetricDatum
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string) *CloudWatch {
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

func (c *CloudWatch) add(name string, dims ...types.Dimension) {
	now := c.nowFunc()
	c.mu.Lock()
	c.datums = append(c.datums, types.MetricDatum{
		MetricName: &name,
		Dimensions: dims,
		Timestamp:  &now,
		Unit:       types.StandardUnitCount,
		Value:      ptr(1.0),
	})
	c.mu.Unlock()
}

func dim(name, value string) types.Dimension {
	return types.Dimension{Name: &name, Value: &value}
}

func (c *CloudWatch) OrderCreated()           { c.add("OrdersCreated") }
func (c *CloudWatch) PublishFailed()          { c.add("PublishFailures") }
func (c *CloudWatch) Processed(source string) { c.add("OrdersProcessed", dim("Source", source)) }
func (c *CloudWatch) Skipped(source, reason string) {
	c.add("OrdersSkipped", dim("Source", source), dim("Reason", reason))
}
func (c *CloudWatch) CheckpointCommitted(segment string) {
	c.add("CheckpointsCommitted", dim("Segment", segment))
}

// Flush sends the buffered datums. The buffer is emptied even on failure so a
// broken metrics endpoint cannot grow it without bound.
func (c *CloudWatch) Flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.datums
	c.datums = nil
	c.mu.Unlock()

	for len(pending) > 0 {
		n := min(len(pending), maxDatumsPerCall)
		_, err := c.client.PutMetricData(ctx, &cw.PutMetricDataInput{
			Namespace:  &c.namespace,
			MetricData: pending[:n],
		})
		if err != nil {
			return fmt.Errorf("put metric data: %w", aws.ClassifyError(err))
		}
		pending = pending[n:]
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

var _ Recorder = (*CloudWatch)(nil)
