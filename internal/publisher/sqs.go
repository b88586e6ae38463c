package publisher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/aws"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/notification"
)

// SQSTransport sends envelopes to a queue consumed by the worker Lambda.
type SQSTransport struct {
	client   aws.SQSAPI
	queueURL string
}

func NewSQSTransport(client aws.SQSAPI, queueURL string) *SQSTransport {
	return &SQSTransport{client: client, queueURL: queueURL}
}

// Send puts body on the queue. order_id, event_type and the trace context
// travel as string message attributes so they are visible without decoding
// the body.
func (t *SQSTransport) Send(ctx context.Context, key string, body []byte) error {
	messageBody := string(body)
	attributes := map[string]string{
		"order_id":   key,
		"event_type": notification.TypeOrderCreated,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))
	msgAttrs := make(map[string]sqstypes.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		v := v
		msgAttrs[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: &v,
		}
	}

	_, err := t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          &t.queueURL,
		MessageBody:       &messageBody,
		MessageAttributes: msgAttrs,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", aws.ClassifyError(err))
	}
	return nil
}

func (t *SQSTransport) Close() error { return nil }

func awsString(s string) *string { return &s }
