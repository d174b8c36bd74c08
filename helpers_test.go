package dstore_test

import (
	"io"
	"log/slog"

	"github.com/denismitr/dstore"
)

type call struct {
	op       string
	record   *dstore.Record
	snapshot dstore.Hash
}

// recordingAdapter completes every operation synchronously unless hold is
// set, in which case records stay in flight until the test completes them.
type recordingAdapter struct {
	calls    []call
	finds    []interface{}
	nextID   int
	hold     bool
	failNext error
	onFind   func(s *dstore.Store, m *dstore.Model, id interface{}) error
}

func (a *recordingAdapter) Find(s *dstore.Store, m *dstore.Model, id interface{}) error {
	a.finds = append(a.finds, id)
	if a.onFind != nil {
		return a.onFind(s, m, id)
	}
	return nil
}

func (a *recordingAdapter) record(op string, r *dstore.Record) error {
	a.calls = append(a.calls, call{op: op, record: r, snapshot: r.Snapshot()})
	if a.failNext != nil {
		err := a.failNext
		a.failNext = nil
		return err
	}
	return nil
}

func (a *recordingAdapter) CreateRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	if err := a.record("create", r); err != nil {
		return err
	}
	if a.hold {
		return nil
	}

	a.nextID++
	hash := r.Snapshot()
	hash[m.PrimaryKey()] = a.nextID
	s.DidCreateRecord(r, hash)
	return nil
}

func (a *recordingAdapter) UpdateRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	if err := a.record("update", r); err != nil {
		return err
	}
	if !a.hold {
		s.DidUpdateRecord(r, nil)
	}
	return nil
}

func (a *recordingAdapter) DeleteRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	if err := a.record("delete", r); err != nil {
		return err
	}
	if !a.hold {
		s.DidDeleteRecord(r)
	}
	return nil
}

func (a *recordingAdapter) ops() []string {
	out := make([]string, len(a.calls))
	for i, c := range a.calls {
		out[i] = c.op
	}
	return out
}

func (a *recordingAdapter) reset() {
	a.calls = nil
	a.finds = nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(adapter dstore.Adapter) *dstore.Store {
	return dstore.New(&dstore.Config{Adapter: adapter, Logger: quietLogger()})
}
