package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReaderFactory opens a reader on one partition positioned at offset, which
// may be kafka.FirstOffset.
type ReaderFactory func(partition int, offset int64) (MessageReader, error)

// PartitionLister returns the partitions of the consumed topic.
type PartitionLister func(ctx context.Context) ([]int, error)

// KafkaReaders opens partition-bound readers. Offsets are managed by the
// checkpoint store, so no consumer group is used.
func KafkaReaders(brokers []string, topic string) ReaderFactory {
	return func(partition int, offset int64) (MessageReader, error) {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: partition,
			MinBytes:  1,
			MaxBytes:  10e6,
			MaxWait:   500 * time.Millisecond,
		})
		if err := r.SetOffset(offset); err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("set offset %d on partition %d: %w", offset, partition, err)
		}
		return r, nil
	}
}

// KafkaPartitions asks the first reachable broker for the topic's partitions.
func KafkaPartitions(brokers []string, topic string) PartitionLister {
	return func(ctx context.Context) ([]int, error) {
		if len(brokers) == 0 {
			return nil, errors.New("no kafka brokers configured")
		}
		var errs []error
		for _, broker := range brokers {
			conn, err := kafka.DefaultDialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			parts, err := conn.ReadPartitions(topic)
			_ = conn.Close()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			ids := make([]int, 0, len(parts))
			for _, p := range parts {
				ids = append(ids, p.ID)
			}
			sort.Ints(ids)
			return ids, nil
		}
		return nil, fmt.Errorf("read partitions of %s: %w", topic, errors.Join(errs...))
	}
}
