package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
	"github.com/imrishuroy/go-orderflow-pipeline/internal/aws"
)

var (
	ErrAlreadyExists = apperr.Conflict(errors.New("order already exists"))
	ErrNotFound      = apperr.NotFound(errors.New("order not found"))
	// ErrStatusMismatch is returned by TransitionStatus when the current
	// status is not the expected one.
	ErrStatusMismatch = apperr.Conflict(errors.New("status mismatch/conditional failed"))
)

// Store is the durable record of orders. Implementations must be safe for
// concurrent use and make single-record read-modify-write atomic.
type Store interface {
	// Create fails with ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, order *Order) (*Order, error)
	// Get returns (nil, nil) when the order does not exist.
	Get(ctx context.Context, id string) (*Order, error)
	// List returns every order, newest first.
	List(ctx context.Context) ([]Order, error)
	// UpdateStatus overwrites the status unconditionally. Moving to Processed
	// stamps ProcessedAt once; moving anywhere else clears it.
	UpdateStatus(ctx context.Context, id string, status Status) (*Order, error)
	// TransitionStatus is UpdateStatus guarded by the current status.
	TransitionStatus(ctx context.Context, id string, from, to Status) (*Order, error)
}

// DynamoStore encapsulates operations on the orders table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new orders store.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

// EnsureTable creates the orders table when it does not exist yet. Meant for
// local stacks; production tables are provisioned outside the service.
func (s *DynamoStore) EnsureTable(ctx context.Context) error {
	return aws.EnsureTable(ctx, s.client, s.tableName, "order_id")
}

func (s *DynamoStore) Create(ctx context.Context, order *Order) (*Order, error) {
	if order == nil || order.ID == "" {
		return nil, apperr.Invalidf("order id is required")
	}
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, apperr.Invalid(fmt.Errorf("marshal order item: %w", err))
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil, fmt.Errorf("create order %s: %w", order.ID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("put item: %w", aws.ClassifyError(err))
	}
	return order.clone(), nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, id string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(id),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", aws.ClassifyError(err))
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// List scans the whole table with a consistent read and sorts by created_at
// descending. A paginated scan sees every item present when it started.
func (s *DynamoStore) List(ctx context.Context) ([]Order, error) {
	paginator := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:      &s.tableName,
		ConsistentRead: awsBool(true),
	})

	var out []Order
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", aws.ClassifyError(err))
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *DynamoStore) UpdateStatus(ctx context.Context, id string, status Status) (*Order, error) {
	return s.updateStatus(ctx, id, "", status)
}

// TransitionStatus conditionally updates the order status from -> to.
// Returns ErrStatusMismatch if the condition failed and ErrNotFound if the
// order does not exist.
func (s *DynamoStore) TransitionStatus(ctx context.Context, id string, from, to Status) (*Order, error) {
	if !from.Valid() {
		return nil, apperr.Invalidf("unknown order status %q", from)
	}
	return s.updateStatus(ctx, id, from, to)
}

func (s *DynamoStore) updateStatus(ctx context.Context, id string, expected, status Status) (*Order, error) {
	if id == "" {
		return nil, apperr.Invalidf("order id is required")
	}
	if !status.Valid() {
		return nil, apperr.Invalidf("unknown order status %q", status)
	}

	now := s.nowFunc().UTC()
	values := map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: string(status)},
	}
	// processed_at is stamped only the first time the order reaches Processed
	updateExpr := "SET #s = :new REMOVE processed_at"
	if status == StatusProcessed {
		updateExpr = "SET #s = :new, processed_at = if_not_exists(processed_at, :pa)"
		values[":pa"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	}
	condition := "attribute_exists(order_id)"
	if expected != "" {
		condition += " AND #s = :expected"
		values[":expected"] = &types.AttributeValueMemberS{Value: string(expected)}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(id),
		UpdateExpression:          &updateExpr,
		ConditionExpression:       &condition,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
		// lets a failed condition tell "missing" apart from "wrong status"
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			if expected != "" && len(cc.Item) > 0 {
				return nil, fmt.Errorf("order %s: %w", id, ErrStatusMismatch)
			}
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update item: %w", aws.ClassifyError(err))
	}

	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func sortNewestFirst(list []Order) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }

var _ Store = (*DynamoStore)(nil)
