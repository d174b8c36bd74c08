package dstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/denismitr/dstore/coerce"
	"github.com/pkg/errors"
)

// Record is a materialized entity of a model. Records belong to exactly
// one Store and must only be used from the goroutine driving that Store.
type Record struct {
	store    *Store
	model    *Model
	clientID uint64

	id    interface{}
	raw   Hash
	cache map[string]interface{}

	state           State
	saving          bool
	changedInFlight bool
	snapshot        Hash
	err             error

	dependsOn  []*Record
	dependents []*Record

	hasMany   map[string]*Association
	belongsTo map[string]*Record

	owner    *Record
	resident bool
}

func (s *Store) newRecord(m *Model, state State) *Record {
	s.clientSeq++
	return &Record{
		store:     s,
		model:     m,
		clientID:  s.clientSeq,
		raw:       make(Hash),
		cache:     make(map[string]interface{}),
		state:     state,
		hasMany:   make(map[string]*Association),
		belongsTo: make(map[string]*Record),
	}
}

func (r *Record) Model() *Model { return r.model }

func (r *Record) Store() *Store { return r.store }

// ID returns the identity as it was loaded or assigned, nil while unassigned.
func (r *Record) ID() interface{} { return r.id }

func (r *Record) State() State { return r.state }

func (r *Record) String() string {
	if r.id == nil {
		return fmt.Sprintf("%s(new #%d)", r.model.name, r.clientID)
	}
	return fmt.Sprintf("%s(%v)", r.model.name, r.id)
}

// Get returns the cached value of an attribute, deserializing it from the
// raw hash (or the declared default) on first access. The primary key name
// yields the identity; undeclared names yield nil.
func (r *Record) Get(name string) interface{} {
	a, ok := r.model.attrByName[name]
	if !ok {
		if name == r.model.primaryKey || name == defaultPrimaryKey {
			return r.id
		}
		return nil
	}

	if v, ok := r.cache[name]; ok {
		return v
	}

	v := a.transform.Deserialize(r.rawValue(a))
	r.cache[name] = v
	return v
}

func (r *Record) rawValue(a *AttributeDescriptor) interface{} {
	if v, ok := r.raw[a.Key]; ok {
		return v
	}

	if a.HasDefault {
		return a.Default
	}

	return coerce.Undefined
}

func (r *Record) GetString(name string) string {
	s, _ := r.Get(name).(string)
	return s
}

func (r *Record) GetFloat(name string) float64 {
	f, _ := coerce.Float(r.Get(name))
	return f
}

func (r *Record) GetBool(name string) bool {
	b, _ := r.Get(name).(bool)
	return b
}

func (r *Record) GetTime(name string) time.Time {
	t, _ := r.Get(name).(time.Time)
	return t
}

// Set stores value as given, uncoerced, and marks the record dirty.
func (r *Record) Set(name string, value interface{}) error {
	if r.state == StateDestroyed {
		return errors.Wrapf(ErrRecordDestroyed, "%s", r)
	}

	if _, ok := r.model.attrByName[name]; !ok {
		return errors.Wrapf(ErrUnknownAttribute, "model %s has no attribute %s", r.model.name, name)
	}

	return r.store.autorun(func() {
		r.cache[name] = value
		r.store.becomeDirty(r)
	})
}

func (r *Record) IsLoaded() bool { return r.state != StateEmpty }

// IsDirty holds while the record carries intent that has not been committed.
func (r *Record) IsDirty() bool {
	switch r.state {
	case StateDirty, StateNew, StateNewDirty, StateDeleted:
		return true
	}
	return false
}

func (r *Record) IsNew() bool { return r.state.isNew() }

func (r *Record) IsDeleted() bool {
	return r.state == StateDeleted || r.state == StateDestroyed
}

func (r *Record) IsDestroyed() bool { return r.state == StateDestroyed }

func (r *Record) IsSaving() bool { return r.saving }

func (r *Record) IsPending() bool { return len(r.dependsOn) > 0 }

func (r *Record) IsError() bool { return r.err != nil }

// Err is the error of the last failed commit or find, nil after a success.
func (r *Record) Err() error { return r.err }

// Owner is the record this one is embedded in, if any.
func (r *Record) Owner() *Record { return r.owner }

// Snapshot is the image of the record taken when it was last dispatched.
func (r *Record) Snapshot() Hash {
	if r.snapshot == nil {
		return nil
	}
	return r.snapshot.clone()
}

// WaitingOn keeps the record out of commits until other has been committed
// with an identity.
func (r *Record) WaitingOn(other *Record) {
	_ = r.store.autorun(func() {
		r.store.waitOn(r, other)
	})
}

func (r *Record) DeleteRecord() {
	_ = r.store.autorun(func() {
		r.store.deleteRecord(r)
	})
}

type serializeOptions struct {
	associations bool
}

type SerializeOption func(o *serializeOptions)

func IncludeAssociations() SerializeOption {
	return func(o *serializeOptions) { o.associations = true }
}

// ToJSON serializes the record into a wire hash keyed by storage key.
func (r *Record) ToJSON(opts ...SerializeOption) Hash {
	var o serializeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var h Hash
	_ = r.store.autorun(func() {
		h = r.toJSON(o)
	})
	return h
}

func (r *Record) toJSON(o serializeOptions) Hash {
	h := make(Hash, len(r.model.attrs)+1)
	if r.id != nil {
		h[r.model.primaryKey] = r.id
	}

	for _, a := range r.model.attrs {
		v := a.transform.Serialize(r.Get(a.Name))
		if coerce.IsUndefined(v) {
			continue
		}
		h[a.Key] = v
	}

	if !o.associations {
		return h
	}

	for _, a := range r.model.assocs {
		switch a.Kind {
		case HasManyKind:
			h[a.Key] = r.association(a).serialize(o)
		case BelongsToKind:
			if v, ok := r.serializeBelongsTo(a, o); ok {
				h[a.Key] = v
			}
		}
	}

	return h
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToJSON())
}

func identityKey(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	if f, ok := coerce.Float(id); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprint(id)
}
