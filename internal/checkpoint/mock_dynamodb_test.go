package checkpoint

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock evaluates the two condition expressions the store uses and
// applies SET/REMOVE clauses attribute by attribute.
type simpleMock struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
	err   error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{table: map[string]map[string]types.AttributeValue{}}
}

func segmentKey(key map[string]types.AttributeValue) (string, error) {
	v, ok := key["segment_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing segment_id")
	}
	return v.Value, nil
}

func strAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	v, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

func numAttr(item map[string]types.AttributeValue, name string) int64 {
	v, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v.Value, 10, 64)
	return n
}

func (m *simpleMock) PutItem(context.Context, *dyn.PutItemInput, ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	return nil, errors.New("not used")
}

func (m *simpleMock) Scan(context.Context, *dyn.ScanInput, ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not used")
}

func (m *simpleMock) DescribeTable(_ context.Context, in *dyn.DescribeTableInput, _ ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error) {
	return &dyn.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName, TableStatus: types.TableStatusActive}}, nil
}

func (m *simpleMock) CreateTable(context.Context, *dyn.CreateTableInput, ...func(*dyn.Options)) (*dyn.CreateTableOutput, error) {
	return &dyn.CreateTableOutput{}, nil
}

func (m *simpleMock) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := segmentKey(in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(_ context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	k, err := segmentKey(in.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.table[k]
	values := in.ExpressionAttributeValues
	owner := values[":owner"].(*types.AttributeValueMemberS).Value
	current, hasOwner := strAttr(item, "owner")

	switch *in.ConditionExpression {
	case claimCondition:
		expired := numAttr(item, "lease_expires_at") < numAttr(values, ":now")
		if exists && hasOwner && current != owner && !expired {
			return nil, &types.ConditionalCheckFailedException{}
		}
	case ownerCondition:
		if !exists || !hasOwner || current != owner {
			return nil, &types.ConditionalCheckFailedException{}
		}
	default:
		return nil, errors.New("unexpected condition " + *in.ConditionExpression)
	}

	if !exists {
		item = map[string]types.AttributeValue{"segment_id": in.Key["segment_id"]}
	}
	expr := *in.UpdateExpression
	setPart, removePart, _ := strings.Cut(strings.TrimPrefix(expr, "SET "), " REMOVE ")
	for _, assignment := range strings.Split(setPart, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(assignment), " = ")
		if alias, ok := in.ExpressionAttributeNames[name]; ok {
			name = alias
		}
		item[name] = values[value]
	}
	if removePart != "" {
		name := strings.TrimSpace(removePart)
		if alias, ok := in.ExpressionAttributeNames[name]; ok {
			name = alias
		}
		delete(item, name)
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}
