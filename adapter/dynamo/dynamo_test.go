package dynamo_test

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/denismitr/dstore"
	"github.com/denismitr/dstore/adapter/dynamo"
	"github.com/denismitr/dstore/coerce"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient keeps items per table and honours the attribute_exists and
// attribute_not_exists conditions the adapter sends.
type fakeClient struct {
	mu        sync.Mutex
	tables    map[string]map[string]map[string]types.AttributeValue
	pageSize  int
	scans     int
	putErr    error
	deadlines []time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables:   make(map[string]map[string]map[string]types.AttributeValue),
		pageSize: 2,
	}
}

func keyString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	}
	return "?"
}

func singleKey(key map[string]types.AttributeValue) string {
	for _, v := range key {
		return keyString(v)
	}
	return ""
}

func (c *fakeClient) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := c.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		c.tables[name] = t
	}
	return t
}

func (c *fakeClient) observe(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		c.deadlines = append(c.deadlines, time.Until(deadline))
	}
}

func checkCondition(condition *string, exists bool) error {
	if condition == nil {
		return nil
	}

	switch *condition {
	case "attribute_not_exists(#pk)":
		if exists {
			return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	case "attribute_exists(#pk)":
		if !exists {
			return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	return nil
}

func (c *fakeClient) seed(table, pk string, items ...map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range items {
		av, err := attributevalue.MarshalMap(it)
		if err != nil {
			panic(err)
		}
		c.table(table)[keyString(av[pk])] = av
	}
}

func (c *fakeClient) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe(ctx)

	return &dynamodb.GetItemOutput{Item: c.table(*in.TableName)[singleKey(in.Key)]}, nil
}

func (c *fakeClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe(ctx)

	if c.putErr != nil {
		return nil, c.putErr
	}

	pk := in.ExpressionAttributeNames["#pk"]
	k := keyString(in.Item[pk])
	_, exists := c.table(*in.TableName)[k]
	if err := checkCondition(in.ConditionExpression, exists); err != nil {
		return nil, err
	}

	c.table(*in.TableName)[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (c *fakeClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe(ctx)

	k := singleKey(in.Key)
	_, exists := c.table(*in.TableName)[k]
	if err := checkCondition(in.ConditionExpression, exists); err != nil {
		return nil, err
	}

	delete(c.table(*in.TableName), k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (c *fakeClient) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observe(ctx)
	c.scans++

	t := c.table(*in.TableName)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(in.ExclusiveStartKey) > 0 {
		after := singleKey(in.ExclusiveStartKey)
		for start < len(keys) && keys[start] <= after {
			start++
		}
	}

	end := start + c.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, t[k])
	}

	if end < len(keys) {
		last := out.Items[len(out.Items)-1]
		for name, v := range last {
			if keyString(v) == keys[end-1] {
				out.LastEvaluatedKey = map[string]types.AttributeValue{name: v}
				break
			}
		}
	}

	return out, nil
}

func (c *fakeClient) item(table string, key string) map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	av, ok := c.table(table)[key]
	if !ok {
		return nil
	}

	var out map[string]interface{}
	if err := attributevalue.UnmarshalMap(av, &out); err != nil {
		panic(err)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequence() func() interface{} {
	var mu sync.Mutex
	n := 0
	return func() interface{} {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n
	}
}

func setup(cfg dynamo.Config) (*fakeClient, *dynamo.Adapter, *dstore.Store, *dstore.Model) {
	client := newFakeClient()
	cfg.TablePrefix = "test_"
	cfg.Logger = quietLogger()
	if cfg.NewID == nil {
		cfg.NewID = sequence()
	}

	adapter := dynamo.New(client, cfg)
	s := dstore.New(&dstore.Config{Adapter: adapter, Logger: quietLogger()})
	person := dstore.MustDefine("person",
		dstore.Attr("name", coerce.String),
		dstore.Attr("age", coerce.Number),
	)
	return client, adapter, s, person
}

func TestAdapter_Writes(t *testing.T) {
	t.Run("create, update and delete", func(t *testing.T) {
		client, adapter, s, person := setup(dynamo.Config{Timeout: time.Minute})
		assert.Equal(t, "test_person", adapter.TableName(person))

		r := s.CreateRecord(person, dstore.Hash{"name": "Scumbag Dale", "age": 30})
		require.NoError(t, s.Commit())
		assert.Equal(t, 1, r.ID())
		assert.Equal(t, map[string]interface{}{"id": float64(1), "name": "Scumbag Dale", "age": float64(30)}, client.item("test_person", "N:1"))

		require.NoError(t, r.Set("age", 31))
		require.NoError(t, s.Commit())
		assert.Equal(t, float64(31), client.item("test_person", "N:1")["age"])

		r.DeleteRecord()
		require.NoError(t, s.Commit())
		assert.True(t, r.IsDestroyed())
		assert.Nil(t, client.item("test_person", "N:1"))

		require.NotEmpty(t, client.deadlines)
		for _, d := range client.deadlines {
			assert.True(t, d > 0 && d <= time.Minute)
		}
	})

	t.Run("uuid identities by default", func(t *testing.T) {
		client := newFakeClient()
		s := dstore.New(&dstore.Config{Adapter: dynamo.New(client, dynamo.Config{Logger: quietLogger()}), Logger: quietLogger()})
		person := dstore.MustDefine("person", dstore.Attr("name", coerce.String))

		r := s.CreateRecord(person, nil)
		require.NoError(t, s.Commit())

		id, ok := r.ID().(string)
		require.True(t, ok)
		assert.Len(t, id, 36)
		assert.NotNil(t, client.item("person", "S:"+id))
	})

	t.Run("conditions map to sentinel errors", func(t *testing.T) {
		client, _, s, person := setup(dynamo.Config{})
		client.seed("test_person", "id", map[string]interface{}{"id": 1, "name": "taken"})

		r := s.CreateRecord(person, nil)
		err := s.Commit()
		assert.True(t, errors.Is(err, dynamo.ErrAlreadyExists))
		assert.True(t, errors.Is(err, dstore.ErrAdapterFailure))
		assert.True(t, r.IsNew())

		ghost, err := s.Load(person, dstore.Hash{"id": 99})
		require.NoError(t, err)
		require.NoError(t, ghost.Set("name", "boo"))
		err = s.Commit()
		assert.True(t, errors.Is(err, dynamo.ErrNotFound))
		assert.Equal(t, 2, r.ID(), "the retried create got a fresh identity")
	})

	t.Run("other client errors pass through", func(t *testing.T) {
		client, _, s, person := setup(dynamo.Config{})
		throttled := errors.New("ProvisionedThroughputExceededException")
		client.putErr = throttled

		r := s.CreateRecord(person, nil)
		err := s.Commit()
		assert.True(t, errors.Is(err, throttled))
		assert.Equal(t, throttled, errors.Cause(r.Err()))
	})

	t.Run("embedded associations round-trip", func(t *testing.T) {
		client := newFakeClient()
		phone := dstore.MustDefine("phoneNumber", dstore.Attr("number", coerce.String))
		contact := dstore.MustDefine("contact",
			dstore.Attr("name", coerce.String),
			dstore.HasMany("phoneNumbers", phone, dstore.Embedded()),
		)
		cfg := dynamo.Config{NewID: sequence(), Logger: quietLogger()}

		s := dstore.New(&dstore.Config{Adapter: dynamo.New(client, cfg), Logger: quietLogger()})
		c := s.CreateRecord(contact, dstore.Hash{"name": "Tom"})
		require.NoError(t, c.HasMany("phoneNumbers").Push(s.CreateRecord(phone, dstore.Hash{"number": "555"})))
		require.NoError(t, s.Commit())

		fresh := dstore.New(&dstore.Config{Adapter: dynamo.New(client, cfg), Logger: quietLogger()})
		found := fresh.Find(contact, 1)
		require.True(t, found.IsLoaded())
		phones := found.HasMany("phoneNumbers")
		require.Equal(t, 1, phones.Len())
		assert.Equal(t, "555", phones.At(0).Get("number"))
	})
}

func TestAdapter_Reads(t *testing.T) {
	t.Run("find", func(t *testing.T) {
		client, _, s, person := setup(dynamo.Config{})
		client.seed("test_person", "id", map[string]interface{}{"id": 7, "name": "Scumbag Katz"})

		r := s.Find(person, 7)
		assert.True(t, r.IsLoaded())
		assert.Equal(t, "Scumbag Katz", r.Get("name"))

		missing := s.Find(person, 8)
		assert.False(t, missing.IsLoaded())
		assert.True(t, errors.Is(missing.Err(), dynamo.ErrNotFound))
	})

	t.Run("find all pages through the table", func(t *testing.T) {
		client, _, s, person := setup(dynamo.Config{})
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			client.seed("test_person", "id", map[string]interface{}{"id": name, "name": name})
		}

		c := s.FindAll(person)
		assert.Equal(t, 5, c.Len())
		assert.Equal(t, 3, client.scans)
	})
}

func TestAdapter_Async(t *testing.T) {
	client, _, s, person := setup(dynamo.Config{Async: true})

	r := s.CreateRecord(person, dstore.Hash{"name": "later"})
	require.NoError(t, s.Commit())
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	assert.True(t, r.IsSaving())
	require.NoError(t, s.Drain())
	assert.Equal(t, 1, r.ID())
	assert.NotNil(t, client.item("test_person", "N:1"))

	var observed []error
	s.OnFailure(func(_ *dstore.Record, err error) { observed = append(observed, err) })
	client.seed("test_person", "id", map[string]interface{}{"id": 2})

	dup := s.CreateRecord(person, nil)
	require.NoError(t, s.Commit())
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Drain())

	require.Len(t, observed, 1)
	assert.True(t, errors.Is(observed[0], dynamo.ErrAlreadyExists))
	assert.True(t, dup.IsNew())

	found := s.Find(person, 2)
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Drain())
	assert.True(t, found.IsLoaded())
}
