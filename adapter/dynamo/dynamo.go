// Package dynamo backs dstore models with DynamoDB tables, one per model,
// partitioned by the model's primary key.
package dynamo

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/denismitr/dstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("item not found")
var ErrAlreadyExists = errors.New("item already exists")

const defaultTimeout = 10 * time.Second

// Client is the part of *dynamodb.Client the adapter uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Config struct {
	// TablePrefix is prepended to the model name to form the table name.
	TablePrefix string
	// Timeout bounds every request. Defaults to 10s.
	Timeout time.Duration
	// NewID generates identities for created records. Defaults to UUIDs.
	NewID func() interface{}
	// Async runs requests on their own goroutines and posts completions
	// through Store.Enqueue.
	Async  bool
	Logger *slog.Logger
}

type Adapter struct {
	client Client
	config Config
}

var _ dstore.Adapter = (*Adapter)(nil)
var _ dstore.FindAller = (*Adapter)(nil)

func New(client Client, config Config) *Adapter {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	if config.NewID == nil {
		config.NewID = func() interface{} { return uuid.NewString() }
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Adapter{client: client, config: config}
}

// TableName is the table backing m.
func (a *Adapter) TableName(m *dstore.Model) string {
	return a.config.TablePrefix + m.Name()
}

func (a *Adapter) key(m *dstore.Model, id interface{}) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(id)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s key", m.Name())
	}
	return map[string]types.AttributeValue{m.PrimaryKey(): av}, nil
}

// run executes req with the configured timeout. Synchronous adapters call
// done inline and return req's error; asynchronous ones post done or the
// failure to the store.
func (a *Adapter) run(s *dstore.Store, r *dstore.Record, req func(ctx context.Context) error, done func()) error {
	exec := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Timeout)
		defer cancel()
		return req(ctx)
	}

	if !a.config.Async {
		if err := exec(); err != nil {
			return err
		}
		done()
		return nil
	}

	go func() {
		if err := exec(); err != nil {
			if r == nil {
				a.config.Logger.Error("dynamo request failed", "error", err)
				return
			}
			s.Enqueue(func() { s.DidFailRecord(r, err) })
			return
		}
		s.Enqueue(done)
	}()

	return nil
}

func (a *Adapter) Find(s *dstore.Store, m *dstore.Model, id interface{}) error {
	key, err := a.key(m, id)
	if err != nil {
		return err
	}

	var hash dstore.Hash
	return a.run(s, nil, func(ctx context.Context) error {
		out, err := a.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(a.TableName(m)),
			Key:       key,
		})
		if err != nil {
			return err
		}
		if out.Item == nil {
			return errors.Wrapf(ErrNotFound, "%s %v", m.Name(), id)
		}

		return attributevalue.UnmarshalMap(out.Item, &hash)
	}, func() {
		if _, err := s.Load(m, hash); err != nil {
			a.config.Logger.Error("could not load item", "table", a.TableName(m), "error", err)
		}
	})
}

func (a *Adapter) FindAll(s *dstore.Store, m *dstore.Model) error {
	var hashes []dstore.Hash
	return a.run(s, nil, func(ctx context.Context) error {
		p := dynamodb.NewScanPaginator(a.client, &dynamodb.ScanInput{
			TableName: aws.String(a.TableName(m)),
		})

		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return errors.Wrapf(err, "scan %s", a.TableName(m))
			}

			var items []dstore.Hash
			if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
				return err
			}
			hashes = append(hashes, items...)
		}
		return nil
	}, func() {
		if _, err := s.LoadMany(m, hashes); err != nil {
			a.config.Logger.Error("could not load items", "table", a.TableName(m), "error", err)
		}
	})
}

func snapshot(r *dstore.Record) dstore.Hash {
	if h := r.Snapshot(); h != nil {
		return h
	}
	return r.ToJSON(dstore.IncludeAssociations())
}

func (a *Adapter) put(ctx context.Context, m *dstore.Model, h dstore.Hash, condition string, notMet error) error {
	item, err := attributevalue.MarshalMap(h)
	if err != nil {
		return errors.Wrapf(err, "marshal %s item", m.Name())
	}

	_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(a.TableName(m)),
		Item:                     item,
		ConditionExpression:      aws.String(condition),
		ExpressionAttributeNames: map[string]string{"#pk": m.PrimaryKey()},
	})

	return mapConditionError(err, notMet, m, h[m.PrimaryKey()])
}

func (a *Adapter) CreateRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	h := snapshot(r)
	if h[m.PrimaryKey()] == nil {
		h[m.PrimaryKey()] = a.config.NewID()
	}

	return a.run(s, r, func(ctx context.Context) error {
		return a.put(ctx, m, h, "attribute_not_exists(#pk)", ErrAlreadyExists)
	}, func() {
		s.DidCreateRecord(r, h)
	})
}

func (a *Adapter) UpdateRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	h := snapshot(r)
	h[m.PrimaryKey()] = r.ID()

	return a.run(s, r, func(ctx context.Context) error {
		return a.put(ctx, m, h, "attribute_exists(#pk)", ErrNotFound)
	}, func() {
		s.DidUpdateRecord(r, nil)
	})
}

func (a *Adapter) DeleteRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	id := r.ID()
	key, err := a.key(m, id)
	if err != nil {
		return err
	}

	return a.run(s, r, func(ctx context.Context) error {
		_, err := a.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                aws.String(a.TableName(m)),
			Key:                      key,
			ConditionExpression:      aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: map[string]string{"#pk": m.PrimaryKey()},
		})
		return mapConditionError(err, ErrNotFound, m, id)
	}, func() {
		s.DidDeleteRecord(r)
	})
}

func mapConditionError(err error, notMet error, m *dstore.Model, id interface{}) error {
	if err == nil {
		return nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return errors.Wrapf(notMet, "%s %v", m.Name(), id)
	}

	return err
}
