package dstore

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/tidwall/btree"
)

// Adapter persists records. Every dispatched record gets exactly one
// completion through the Store's Did* callbacks, unless the method itself
// returns an error, which is treated as a failed completion.
type Adapter interface {
	Find(s *Store, m *Model, id interface{}) error
	CreateRecord(s *Store, m *Model, r *Record) error
	UpdateRecord(s *Store, m *Model, r *Record) error
	DeleteRecord(s *Store, m *Model, r *Record) error
}

// FindAller is implemented by adapters that can load every record of a model.
type FindAller interface {
	FindAll(s *Store, m *Model) error
}

// FailureObserver is told about every failed adapter operation.
type FailureObserver func(r *Record, err error)

type bucket struct {
	model       *Model
	byID        map[string]*Record
	records     *btree.BTree
	collections []*FilteredCollection
}

func byClientID(a, b interface{}) bool {
	return a.(*Record).clientID < b.(*Record).clientID
}

// Store is the identity map and commit coordinator for records. It is not
// safe for concurrent use; only Enqueue may be called from other goroutines.
type Store struct {
	adapter   Adapter
	logger    *slog.Logger
	observers []FailureObserver

	buckets   map[*Model]*bucket
	models    []*Model
	clientSeq uint64

	depth           int
	changed         []*Record
	changedSet      map[*Record]struct{}
	commitRequested bool
	dispatching     bool
	failures        []Failure
	dispatchErr     error

	queue    *completionQueue
	programs programCache
}

func New(cfg *Config) *Store {
	c := resolveConfig(cfg)

	s := &Store{
		adapter:    c.Adapter,
		logger:     c.Logger,
		buckets:    make(map[*Model]*bucket),
		changedSet: make(map[*Record]struct{}),
		queue:      newCompletionQueue(),
		programs:   newProgramCache(c.Limits.ExprCacheSize, c.Limits.ExprCacheShards, c.Logger),
	}

	if c.OnFailure != nil {
		s.observers = append(s.observers, c.OnFailure)
	}

	return s
}

func (s *Store) Adapter() Adapter { return s.adapter }

func (s *Store) Logger() *slog.Logger { return s.logger }

func (s *Store) OnFailure(fn FailureObserver) {
	if fn != nil {
		s.observers = append(s.observers, fn)
	}
}

func (s *Store) bucket(m *Model) *bucket {
	b, ok := s.buckets[m]
	if !ok {
		b = &bucket{
			model:   m,
			byID:    make(map[string]*Record),
			records: btree.New(byClientID),
		}
		s.buckets[m] = b
		s.models = append(s.models, m)
	}
	return b
}

func (s *Store) register(r *Record) {
	b := s.bucket(r.model)
	if r.id != nil {
		b.byID[identityKey(r.id)] = r
	}
	b.records.Set(r)
	r.resident = true
}

func (s *Store) unregister(r *Record) {
	if !r.resident {
		return
	}

	b := s.bucket(r.model)
	if r.id != nil {
		key := identityKey(r.id)
		if b.byID[key] == r {
			delete(b.byID, key)
		}
	}
	b.records.Delete(r)
	r.resident = false
}

// Records returns the resident records of a model in creation order,
// placeholders and pending deletes included.
func (s *Store) Records(m *Model) []*Record {
	b, ok := s.buckets[m]
	if !ok {
		return nil
	}

	out := make([]*Record, 0, b.records.Len())
	b.records.Ascend(nil, func(item interface{}) bool {
		out = append(out, item.(*Record))
		return true
	})
	return out
}

func (s *Store) Len(m *Model) int {
	b, ok := s.buckets[m]
	if !ok {
		return 0
	}
	return b.records.Len()
}

// Resident returns the record loaded under id without asking the adapter.
func (s *Store) Resident(m *Model, id interface{}) (*Record, bool) {
	if id == nil {
		return nil, false
	}

	b, ok := s.buckets[m]
	if !ok {
		return nil, false
	}

	r, ok := b.byID[identityKey(id)]
	return r, ok
}

// Load upserts a raw hash. Loading the same identity twice merges into
// the existing record and invalidates only what changed.
func (s *Store) Load(m *Model, hash Hash) (*Record, error) {
	var r *Record
	var loadErr error
	err := s.autorun(func() {
		r, loadErr = s.load(m, hash)
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return r, err
}

func (s *Store) LoadMany(m *Model, hashes []Hash) ([]*Record, error) {
	records := make([]*Record, 0, len(hashes))
	var loadErr error
	err := s.autorun(func() {
		for i, h := range hashes {
			r, err := s.load(m, h)
			if err != nil {
				loadErr = errors.Wrapf(err, "hash %d", i)
				return
			}
			records = append(records, r)
		}
	})
	if loadErr != nil {
		return records, loadErr
	}
	return records, err
}

func (s *Store) load(m *Model, hash Hash) (*Record, error) {
	id, ok := hash[m.primaryKey]
	if !ok || id == nil {
		return nil, errors.Wrapf(ErrMissingIdentity, "model %s expects identity under %s", m.name, m.primaryKey)
	}

	b := s.bucket(m)
	if r, ok := b.byID[identityKey(id)]; ok {
		s.merge(r, hash)
		if r.state == StateEmpty {
			r.state = StateLoaded
			r.err = nil
		}
		s.touch(r)
		s.logger.Debug("record merged", "model", m.name, "id", id)
		return r, nil
	}

	r := s.newRecord(m, StateLoaded)
	r.id = id
	r.raw = hash.clone()
	s.register(r)
	s.touch(r)
	s.logger.Debug("record loaded", "model", m.name, "id", id)
	return r, nil
}

func (s *Store) merge(r *Record, hash Hash) {
	for k, v := range hash {
		if old, ok := r.raw[k]; ok && equalValues(old, v) {
			continue
		}
		r.raw[k] = v
		s.invalidate(r, k)
	}
}

func (s *Store) invalidate(r *Record, key string) {
	for _, a := range r.model.attributesWithKey(key) {
		delete(r.cache, a.Name)
	}

	for _, a := range r.model.associationsWithKey(key) {
		if h, ok := r.hasMany[a.Name]; ok {
			h.reload()
		}
		delete(r.belongsTo, a.Name)
	}
}

// Find returns the resident record for id or a placeholder that the
// adapter is asked to fill.
func (s *Store) Find(m *Model, id interface{}) *Record {
	if id == nil {
		return nil
	}

	var r *Record
	_ = s.autorun(func() {
		r = s.find(m, id)
	})
	return r
}

func (s *Store) find(m *Model, id interface{}) *Record {
	b := s.bucket(m)
	if r, ok := b.byID[identityKey(id)]; ok {
		return r
	}

	r := s.newRecord(m, StateEmpty)
	r.id = id
	s.register(r)

	if s.adapter == nil {
		return r
	}

	if err := s.adapter.Find(s, m, id); err != nil {
		r.err = err
		s.logger.Error("find failed", "model", m.name, "id", id, "error", err)
	}

	return r
}

// FindAll returns a live collection of every loaded record of the model,
// asking adapters that implement FindAller to load them.
func (s *Store) FindAll(m *Model) *FilteredCollection {
	c := s.Filter(m, func(*Record) bool { return true })

	if fa, ok := s.adapter.(FindAller); ok {
		_ = s.autorun(func() {
			if err := fa.FindAll(s, m); err != nil {
				s.logger.Error("find all failed", "model", m.name, "error", err)
			}
		})
	}

	return c
}

// CreateRecord builds a new record that has no identity until its
// create completes. Hash keys name attributes, not storage keys.
func (s *Store) CreateRecord(m *Model, hash Hash) *Record {
	var r *Record
	_ = s.autorun(func() {
		r = s.newRecord(m, StateNew)
		for name, v := range hash {
			if _, ok := m.attrByName[name]; !ok {
				s.logger.Debug("ignoring unknown attribute", "model", m.name, "attribute", name)
				continue
			}
			r.cache[name] = v
		}
		s.register(r)
		s.touch(r)
	})
	return r
}

func (s *Store) becomeDirty(r *Record) {
	switch r.state {
	case StateEmpty, StateLoaded:
		r.state = StateDirty
	case StateNew:
		r.state = StateNewDirty
	}

	if r.saving {
		r.changedInFlight = true
	}

	s.touch(r)

	if r.owner != nil && r.owner.state != StateDestroyed {
		s.becomeDirty(r.owner)
	}
}

func (s *Store) waitOn(r, other *Record) {
	if other == nil || other == r || other.state == StateDestroyed {
		return
	}

	for _, d := range r.dependsOn {
		if d == other {
			return
		}
	}

	if r.state == StateLoaded {
		r.state = StateDirty
		if r.saving {
			r.changedInFlight = true
		}
	}

	if other.id != nil && !other.IsDirty() && !other.saving && other.state != StateEmpty {
		s.touch(r)
		return
	}

	r.dependsOn = append(r.dependsOn, other)
	other.dependents = append(other.dependents, r)
	s.touch(r)
}

func (s *Store) deleteRecord(r *Record) {
	switch {
	case r.state == StateDestroyed:
		return
	case r.state.isNew() && !r.saving:
		s.destroy(r)
	default:
		r.state = StateDeleted
		if r.saving {
			r.changedInFlight = true
		}
		s.touch(r)
	}
}

// destroy makes r terminal, releasing every dependency edge it takes part in.
func (s *Store) destroy(r *Record) {
	r.state = StateDestroyed
	r.saving = false
	r.changedInFlight = false

	for _, d := range r.dependsOn {
		d.dependents = removeRecord(d.dependents, r)
	}
	r.dependsOn = nil

	for _, d := range r.dependents {
		d.dependsOn = removeRecord(d.dependsOn, r)
		s.logger.Warn("dependency destroyed before commit", "record", d.String(), "dependency", r.String())
		s.touch(d)
	}
	r.dependents = nil

	s.unregister(r)
	s.touch(r)
}

// resolveDependents releases every record waiting on r.
func (s *Store) resolveDependents(r *Record) {
	for _, d := range r.dependents {
		d.dependsOn = removeRecord(d.dependsOn, r)
		s.touch(d)
	}
	r.dependents = nil
}

func removeRecord(records []*Record, r *Record) []*Record {
	out := records[:0]
	for _, x := range records {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}
