// Package memory is an in-process dstore backend. Documents are kept as
// JSON in an ordered index keyed by "model:id".
package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/denismitr/dstore"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
	"github.com/tidwall/gjson"
)

var ErrNotFound = errors.New("document not found")
var ErrAlreadyExists = errors.New("document already exists")
var ErrInvalidDocument = errors.New("invalid document")

// Op names an adapter operation for failure injection.
type Op string

const (
	OpFind   Op = "find"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Config struct {
	// IDs hands out identities on create. Defaults to a SequenceGenerator.
	IDs IDGenerator
	// Async posts completions through Store.Enqueue instead of calling back
	// before the adapter method returns.
	Async bool
	// Journal receives every write as a RESP command when set.
	Journal io.Writer
	Logger  *slog.Logger
}

type document struct {
	key  docKey
	data []byte
}

type Adapter struct {
	mu       sync.RWMutex
	docs     *btree.BTree
	ids      IDGenerator
	async    bool
	journal  io.Writer
	logger   *slog.Logger
	failures map[Op]error
}

var _ dstore.Adapter = (*Adapter)(nil)
var _ dstore.FindAller = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	a := &Adapter{
		docs:     btree.New(byDocKeys),
		ids:      cfg.IDs,
		async:    cfg.Async,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		failures: make(map[Op]error),
	}

	if a.ids == nil {
		a.ids = NewSequenceGenerator()
	}

	if a.logger == nil {
		a.logger = slog.Default()
	}

	return a
}

// FailNext makes the next operation of kind op fail with err.
func (a *Adapter) FailNext(op Op, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[op] = err
}

func (a *Adapter) takeFailure(op Op) error {
	err, ok := a.failures[op]
	if !ok {
		return nil
	}
	delete(a.failures, op)
	return err
}

// Seed stores hashes as they are, bypassing any Store.
func (a *Adapter) Seed(m *dstore.Model, hashes ...dstore.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, h := range hashes {
		id, ok := h[m.PrimaryKey()]
		if !ok || id == nil {
			return errors.Wrapf(ErrInvalidDocument, "hash %d has no %s", i, m.PrimaryKey())
		}

		if err := a.putUnderLock(keyFor(m.Name(), id), h, true); err != nil {
			return err
		}
	}

	return nil
}

// Documents returns every stored document of the model in key order.
func (a *Adapter) Documents(m *dstore.Model) []dstore.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []dstore.Hash
	a.scanModelUnderLock(m.Name(), func(doc *document) bool {
		out = append(out, decode(doc.data))
		return true
	})
	return out
}

func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.docs.Len()
}

func (a *Adapter) scanModelUnderLock(model string, fn func(doc *document) bool) {
	a.docs.Ascend(&document{key: newDocKey(model)}, func(item interface{}) bool {
		doc := item.(*document)
		if doc.key.Model() != model {
			return false
		}
		return fn(doc)
	})
}

func (a *Adapter) getUnderLock(key docKey) (*document, bool) {
	found := a.docs.Get(&document{key: key})
	if found == nil {
		return nil, false
	}
	return found.(*document), true
}

func (a *Adapter) putUnderLock(key docKey, h dstore.Hash, replace bool) error {
	data, err := json.Marshal(h)
	if err != nil {
		return errors.Wrapf(ErrInvalidDocument, "could not marshal %s: %v", key, err)
	}

	doc := &document{key: key, data: data}
	if existing := a.docs.Set(doc); existing != nil && !replace {
		a.docs.Set(existing)
		return errors.Wrapf(ErrAlreadyExists, "key %s", key)
	}

	a.observe(key)
	a.writeJournal(func(buf *bytes.Buffer) { writeSetCommand(doc, buf) })
	return nil
}

func (a *Adapter) removeUnderLock(key docKey) error {
	if a.docs.Delete(&document{key: key}) == nil {
		return errors.Wrapf(ErrNotFound, "key %s", key)
	}

	a.writeJournal(func(buf *bytes.Buffer) { writeDelCommand(key, buf) })
	return nil
}

func (a *Adapter) writeJournal(fn func(buf *bytes.Buffer)) {
	if a.journal == nil {
		return
	}

	var buf bytes.Buffer
	fn(&buf)
	if _, err := a.journal.Write(buf.Bytes()); err != nil {
		a.logger.Error("journal write failed", "error", err)
	}
}

func (a *Adapter) observe(key docKey) {
	if seq, ok := a.ids.(*SequenceGenerator); ok {
		seq.observe(key.Model(), key.ID())
	}
}

func decode(data []byte) dstore.Hash {
	m, _ := gjson.ParseBytes(data).Value().(map[string]interface{})
	return dstore.Hash(m)
}

func (a *Adapter) complete(s *dstore.Store, fn func()) {
	if a.async {
		s.Enqueue(fn)
		return
	}
	fn()
}

// fail reports err for r. Synchronous adapters return it; asynchronous
// ones post it like any other completion.
func (a *Adapter) fail(s *dstore.Store, r *dstore.Record, err error) error {
	if !a.async {
		return err
	}
	s.Enqueue(func() { s.DidFailRecord(r, err) })
	return nil
}

func (a *Adapter) Find(s *dstore.Store, m *dstore.Model, id interface{}) error {
	a.mu.Lock()
	if err := a.takeFailure(OpFind); err != nil {
		a.mu.Unlock()
		return err
	}

	doc, ok := a.getUnderLock(keyFor(m.Name(), id))
	a.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s %v", m.Name(), id)
	}

	h := decode(doc.data)
	a.complete(s, func() {
		if _, err := s.Load(m, h); err != nil {
			a.logger.Error("could not load found document", "key", doc.key.String(), "error", err)
		}
	})
	return nil
}

func (a *Adapter) FindAll(s *dstore.Store, m *dstore.Model) error {
	hashes := a.Documents(m)
	a.complete(s, func() {
		if _, err := s.LoadMany(m, hashes); err != nil {
			a.logger.Error("could not load documents", "model", m.Name(), "error", err)
		}
	})
	return nil
}

func (a *Adapter) CreateRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	h := r.Snapshot()
	if h == nil {
		h = r.ToJSON(dstore.IncludeAssociations())
	}

	a.mu.Lock()
	if err := a.takeFailure(OpCreate); err != nil {
		a.mu.Unlock()
		return a.fail(s, r, err)
	}

	id := h[m.PrimaryKey()]
	if id == nil {
		id = a.ids.NextID(m.Name())
		h[m.PrimaryKey()] = id
	}

	err := a.putUnderLock(keyFor(m.Name(), id), h, false)
	a.mu.Unlock()
	if err != nil {
		return a.fail(s, r, err)
	}

	a.logger.Debug("document created", "model", m.Name(), "id", id)
	a.complete(s, func() { s.DidCreateRecord(r, h) })
	return nil
}

func (a *Adapter) UpdateRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	h := r.Snapshot()
	if h == nil {
		h = r.ToJSON(dstore.IncludeAssociations())
	}

	a.mu.Lock()
	if err := a.takeFailure(OpUpdate); err != nil {
		a.mu.Unlock()
		return a.fail(s, r, err)
	}

	key := keyFor(m.Name(), r.ID())
	var err error
	if _, ok := a.getUnderLock(key); !ok {
		err = errors.Wrapf(ErrNotFound, "key %s", key)
	} else {
		err = a.putUnderLock(key, h, true)
	}
	a.mu.Unlock()
	if err != nil {
		return a.fail(s, r, err)
	}

	a.complete(s, func() { s.DidUpdateRecord(r, nil) })
	return nil
}

func (a *Adapter) DeleteRecord(s *dstore.Store, m *dstore.Model, r *dstore.Record) error {
	a.mu.Lock()
	err := a.takeFailure(OpDelete)
	if err == nil {
		err = a.removeUnderLock(keyFor(m.Name(), r.ID()))
	}
	a.mu.Unlock()
	if err != nil {
		return a.fail(s, r, err)
	}

	a.complete(s, func() { s.DidDeleteRecord(r) })
	return nil
}

// WriteTo dumps every document as a RESP set command.
func (a *Adapter) WriteTo(w io.Writer) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var buf bytes.Buffer
	a.docs.Ascend(nil, func(item interface{}) bool {
		writeSetCommand(item.(*document), &buf)
		return true
	})

	return buf.WriteTo(w)
}

// ReadFrom replays a dump or a journal on top of the current documents.
func (a *Adapter) ReadFrom(r io.Reader) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var p parser
	return p.parse(bufio.NewReader(r), func(cmd command) error {
		key := newDocKey(cmd.key)
		if len(key.segments) < 2 {
			return errors.Wrapf(ErrCorruptDump, "line #%d: key %q has no identity", p.currentLine, cmd.key)
		}

		switch cmd.code {
		case setCode:
			if !gjson.ValidBytes(cmd.data) || !gjson.ParseBytes(cmd.data).IsObject() {
				return errors.Wrapf(ErrCorruptDump, "line #%d: %s is not a JSON object", p.currentLine, cmd.key)
			}
			a.docs.Set(&document{key: key, data: cmd.data})
			a.observe(key)
		case delCode:
			a.docs.Delete(&document{key: key})
		}
		return nil
	})
}
