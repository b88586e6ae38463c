package orders

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory table keyed by order_id. It understands the
// handful of expressions DynamoStore sends and nothing more.
type mockDynamo struct {
	mu          sync.Mutex
	items       map[string]map[string]types.AttributeValue
	tableExists bool
	createCalls int
	updateCalls int
	failNext    error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items:       map[string]map[string]types.AttributeValue{},
		tableExists: true,
	}
}

func keyOf(m map[string]types.AttributeValue) (string, error) {
	v, ok := m["order_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing order_id")
	}
	return v.Value, nil
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *mockDynamo) PutItem(_ context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	if in.ConditionExpression != nil && *in.ConditionExpression == "attribute_not_exists(order_id)" {
		if _, exists := m.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[k] = copyItem(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	k, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.items[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if strings.Contains(*in.ConditionExpression, "#s = :expected") {
		want := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		got := item["status"].(*types.AttributeValueMemberS).Value
		if got != want {
			return nil, &types.ConditionalCheckFailedException{Item: copyItem(item)}
		}
	}

	item["status"] = in.ExpressionAttributeValues[":new"]
	if pa, ok := in.ExpressionAttributeValues[":pa"]; ok {
		if _, stamped := item["processed_at"]; !stamped {
			item["processed_at"] = pa
		}
	} else if strings.Contains(*in.UpdateExpression, "REMOVE processed_at") {
		delete(item, "processed_at")
	}
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (m *mockDynamo) Scan(_ context.Context, _ *dyn.ScanInput, _ ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	out := &dyn.ScanOutput{}
	for _, item := range m.items {
		out.Items = append(out.Items, copyItem(item))
	}
	return out, nil
}

func (m *mockDynamo) DescribeTable(_ context.Context, in *dyn.DescribeTableInput, _ ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tableExists {
		return nil, &types.ResourceNotFoundException{}
	}
	return &dyn.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (m *mockDynamo) CreateTable(_ context.Context, _ *dyn.CreateTableInput, _ ...func(*dyn.Options)) (*dyn.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.tableExists = true
	return &dyn.CreateTableOutput{}, nil
}
