// Package checkpoint persists per-segment stream cursors together with a
// lease that marks which consumer currently owns the segment.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/aws"
)

// Store is the checkpoint contract used by the stream consumer.
type Store interface {
	EnsureTable(ctx context.Context) error
	// Claim takes ownership of segment for owner when it is free, expired or
	// already held by owner, and returns the last committed position.
	Claim(ctx context.Context, segment, owner string) (Position, error)
	// Commit records offset as fully processed and renews the lease.
	Commit(ctx context.Context, segment, owner string, offset int64) error
	// Renew extends the lease without moving the cursor.
	Renew(ctx context.Context, segment, owner string) error
	// Release gives the segment up. Releasing a lost segment is not an error.
	Release(ctx context.Context, segment, owner string) error
}

const (
	claimCondition = "attribute_not_exists(segment_id) OR attribute_not_exists(#o) OR #o = :owner OR lease_expires_at < :now"
	ownerCondition = "#o = :owner"
)

// DynamoStore keeps checkpoints in a DynamoDB table keyed by segment_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	lease     time.Duration
	nowFunc   func() time.Time
}

// NewDynamoStore returns a configured store. lease <= 0 selects DefaultLease.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, lease time.Duration) *DynamoStore {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		lease:     lease,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) EnsureTable(ctx context.Context) error {
	return aws.EnsureTable(ctx, s.client, s.tableName, "segment_id")
}

func (s *DynamoStore) key(segment string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"segment_id": &types.AttributeValueMemberS{Value: segment},
	}
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func (s *DynamoStore) Claim(ctx context.Context, segment, owner string) (Position, error) {
	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(segment),
		UpdateExpression:    awsString("SET #o = :owner, lease_expires_at = :exp, updated_at = :ua"),
		ConditionExpression: awsString(claimCondition),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
			":now":   millis(now),
			":exp":   millis(now.Add(s.lease)),
			":ua":    &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return Position{}, fmt.Errorf("claim %s: %w", segment, ErrOwnedElsewhere)
		}
		return Position{}, fmt.Errorf("claim %s: %w", segment, aws.ClassifyError(err))
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return Position{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if rec.Offset == nil {
		return Position{}, nil
	}
	return Position{Offset: *rec.Offset, Found: true}, nil
}

func (s *DynamoStore) Commit(ctx context.Context, segment, owner string, offset int64) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(segment),
		UpdateExpression:    awsString("SET #off = :off, lease_expires_at = :exp, updated_at = :ua"),
		ConditionExpression: awsString(ownerCondition),
		ExpressionAttributeNames: map[string]string{
			"#o":   "owner",
			"#off": "offset",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
			":off":   &types.AttributeValueMemberN{Value: strconv.FormatInt(offset, 10)},
			":exp":   millis(now.Add(s.lease)),
			":ua":    &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("commit %s@%d: %w", segment, offset, ErrOwnershipLost)
		}
		return fmt.Errorf("commit %s@%d: %w", segment, offset, aws.ClassifyError(err))
	}
	return nil
}

func (s *DynamoStore) Renew(ctx context.Context, segment, owner string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(segment),
		UpdateExpression:    awsString("SET lease_expires_at = :exp, updated_at = :ua"),
		ConditionExpression: awsString(ownerCondition),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
			":exp":   millis(now.Add(s.lease)),
			":ua":    &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("renew %s: %w", segment, ErrOwnershipLost)
		}
		return fmt.Errorf("renew %s: %w", segment, aws.ClassifyError(err))
	}
	return nil
}

func (s *DynamoStore) Release(ctx context.Context, segment, owner string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(segment),
		UpdateExpression:    awsString("SET lease_expires_at = :zero, updated_at = :ua REMOVE #o"),
		ConditionExpression: awsString(ownerCondition),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
			":zero":  &types.AttributeValueMemberN{Value: "0"},
			":ua":    &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("release %s: %w", segment, aws.ClassifyError(err))
	}
	return nil
}

// Get reads a checkpoint without claiming it. Returns (nil, nil) if absent.
func (s *DynamoStore) Get(ctx context.Context, segment string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(segment),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", aws.ClassifyError(err))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

var _ Store = (*DynamoStore)(nil)
