package coerce

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrUnknownType = errors.New("unknown attribute type")
var ErrInvalidTransform = errors.New("transform must define both directions")

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined stands for a value that is absent from the raw hash,
// as opposed to one that is present and nil.
var Undefined interface{} = undefined{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

type Func func(v interface{}) interface{}

// Transform converts between wire values and in-memory values of one type.
type Transform struct {
	Deserialize Func
	Serialize   Func
}

type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// Default returns a registry with the builtin string, number, boolean
// and date kinds. Every call returns a fresh registry.
func Default() *Registry {
	r := NewRegistry()
	r.mustRegister(String, stringTransform)
	r.mustRegister(Number, numberTransform)
	r.mustRegister(Boolean, booleanTransform)
	r.mustRegister(Date, dateTransform)
	return r
}

func (r *Registry) Register(name string, t Transform) error {
	if name == "" {
		return errors.Wrap(ErrInvalidTransform, "type name is empty")
	}

	if t.Deserialize == nil || t.Serialize == nil {
		return errors.Wrapf(ErrInvalidTransform, "type %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = t
	return nil
}

func (r *Registry) mustRegister(name string, t Transform) {
	if err := r.Register(name, t); err != nil {
		panic("coerce: " + err.Error())
	}
}

func (r *Registry) Lookup(name string) (Transform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transforms[name]
	if !ok {
		return Transform{}, errors.Wrapf(ErrUnknownType, "%q", name)
	}

	return t, nil
}

func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

func (r *Registry) Deserialize(name string, raw interface{}) (interface{}, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	return t.Deserialize(raw), nil
}

func (r *Registry) Serialize(name string, v interface{}) (interface{}, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	return t.Serialize(v), nil
}
