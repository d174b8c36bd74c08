package dstore

import (
	"github.com/denismitr/dstore/coerce"
	"github.com/pkg/errors"
)

const defaultPrimaryKey = "id"

var defaultTypes = coerce.Default()

type AssociationKind uint8

const (
	HasManyKind AssociationKind = iota + 1
	BelongsToKind
)

func (k AssociationKind) String() string {
	switch k {
	case HasManyKind:
		return "hasMany"
	case BelongsToKind:
		return "belongsTo"
	}
	return "unknown"
}

type AttributeDescriptor struct {
	Name       string
	Type       string
	Key        string
	Default    interface{}
	HasDefault bool

	transform coerce.Transform
}

type AssociationDescriptor struct {
	Name     string
	Kind     AssociationKind
	Target   *Model
	Key      string
	Embedded bool
}

// Model is the immutable declaration of a record type.
type Model struct {
	name       string
	primaryKey string
	convention NamingConvention
	types      *coerce.Registry
	defined    bool

	attrs       []*AttributeDescriptor
	assocs      []*AssociationDescriptor
	attrByName  map[string]*AttributeDescriptor
	assocByName map[string]*AssociationDescriptor

	pendingAttrs  []attrDecl
	pendingAssocs []assocDecl
}

type ModelOption interface {
	applyTo(m *Model) error
}

type modelOptionFunc func(m *Model) error

func (f modelOptionFunc) applyTo(m *Model) error { return f(m) }

type fieldOptions struct {
	key        string
	def        interface{}
	hasDefault bool
	embedded   bool
}

type FieldOption func(o *fieldOptions)

// Key sets the storage key explicitly, bypassing the naming convention.
func Key(k string) FieldOption {
	return func(o *fieldOptions) { o.key = k }
}

// Default is returned by Get while the raw hash lacks the attribute.
func Default(v interface{}) FieldOption {
	return func(o *fieldOptions) {
		o.def = v
		o.hasDefault = true
	}
}

// Embedded stores associated records inline as nested hashes.
func Embedded() FieldOption {
	return func(o *fieldOptions) { o.embedded = true }
}

type attrDecl struct {
	name string
	typ  string
	opts fieldOptions
}

type assocDecl struct {
	name   string
	kind   AssociationKind
	target *Model
	opts   fieldOptions
}

func collect(opts []FieldOption) fieldOptions {
	var fo fieldOptions
	for _, o := range opts {
		o(&fo)
	}
	return fo
}

func Attr(name, typ string, opts ...FieldOption) ModelOption {
	return modelOptionFunc(func(m *Model) error {
		m.pendingAttrs = append(m.pendingAttrs, attrDecl{name: name, typ: typ, opts: collect(opts)})
		return nil
	})
}

func HasMany(name string, target *Model, opts ...FieldOption) ModelOption {
	return modelOptionFunc(func(m *Model) error {
		m.pendingAssocs = append(m.pendingAssocs, assocDecl{name: name, kind: HasManyKind, target: target, opts: collect(opts)})
		return nil
	})
}

func BelongsTo(name string, target *Model, opts ...FieldOption) ModelOption {
	return modelOptionFunc(func(m *Model) error {
		m.pendingAssocs = append(m.pendingAssocs, assocDecl{name: name, kind: BelongsToKind, target: target, opts: collect(opts)})
		return nil
	})
}

func PrimaryKey(key string) ModelOption {
	return modelOptionFunc(func(m *Model) error {
		if key == "" {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: empty primary key", m.name)
		}
		m.primaryKey = key
		return nil
	})
}

func WithNamingConvention(c NamingConvention) ModelOption {
	return modelOptionFunc(func(m *Model) error {
		if c == nil {
			c = IdentityConvention{}
		}
		m.convention = c
		return nil
	})
}

func WithTypes(r *coerce.Registry) ModelOption {
	return modelOptionFunc(func(m *Model) error {
		if r == nil {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: nil type registry", m.name)
		}
		m.types = r
		return nil
	})
}

// Declare creates a model that can already be the target of associations
// but has no fields until Define is called on it. Mutually referencing
// models are declared first and defined afterwards.
func Declare(name string) *Model {
	return &Model{
		name:        name,
		primaryKey:  defaultPrimaryKey,
		convention:  IdentityConvention{},
		types:       defaultTypes,
		attrByName:  make(map[string]*AttributeDescriptor),
		assocByName: make(map[string]*AssociationDescriptor),
	}
}

func Define(name string, opts ...ModelOption) (*Model, error) {
	m := Declare(name)
	if err := m.Define(opts...); err != nil {
		return nil, err
	}
	return m, nil
}

func MustDefine(name string, opts ...ModelOption) *Model {
	m, err := Define(name, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Define resolves the declarations of a declared model. A model is defined once.
func (m *Model) Define(opts ...ModelOption) error {
	if m.name == "" {
		return errors.Wrap(ErrMalformedDeclaration, "model name is empty")
	}

	if m.defined {
		return errors.Wrapf(ErrMalformedDeclaration, "model %s is already defined", m.name)
	}

	for _, o := range opts {
		if err := o.applyTo(m); err != nil {
			m.pendingAttrs, m.pendingAssocs = nil, nil
			return err
		}
	}

	attrs, assocs := m.pendingAttrs, m.pendingAssocs
	m.pendingAttrs, m.pendingAssocs = nil, nil

	if err := m.resolve(attrs, assocs); err != nil {
		m.attrs, m.assocs = nil, nil
		m.attrByName = make(map[string]*AttributeDescriptor)
		m.assocByName = make(map[string]*AssociationDescriptor)
		return err
	}

	m.defined = true
	return nil
}

func (m *Model) resolve(attrs []attrDecl, assocs []assocDecl) error {
	seen := make(map[string]bool)

	for _, d := range attrs {
		if d.name == "" {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: attribute with empty name", m.name)
		}

		if seen[d.name] {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: duplicate field %s", m.name, d.name)
		}
		seen[d.name] = true

		t, err := m.types.Lookup(d.typ)
		if err != nil {
			return errors.Wrapf(err, "model %s attribute %s", m.name, d.name)
		}

		key := d.opts.key
		if key == "" {
			key = m.convention.StorageKey(d.name)
		}

		if key == m.primaryKey {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: attribute %s collides with primary key %s", m.name, d.name, key)
		}

		a := &AttributeDescriptor{
			Name:       d.name,
			Type:       d.typ,
			Key:        key,
			Default:    d.opts.def,
			HasDefault: d.opts.hasDefault,
			transform:  t,
		}
		m.attrs = append(m.attrs, a)
		m.attrByName[a.Name] = a
	}

	for _, d := range assocs {
		if d.name == "" {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: association with empty name", m.name)
		}

		if seen[d.name] {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: duplicate field %s", m.name, d.name)
		}
		seen[d.name] = true

		if d.target == nil {
			return errors.Wrapf(ErrMalformedDeclaration, "model %s: association %s has no target", m.name, d.name)
		}

		key := d.opts.key
		if key == "" {
			if d.kind == BelongsToKind && !d.opts.embedded {
				key = m.convention.ForeignKey(d.name)
			} else {
				key = m.convention.StorageKey(d.name)
			}
		}

		a := &AssociationDescriptor{
			Name:     d.name,
			Kind:     d.kind,
			Target:   d.target,
			Key:      key,
			Embedded: d.opts.embedded,
		}
		m.assocs = append(m.assocs, a)
		m.assocByName[a.Name] = a
	}

	return nil
}

func (m *Model) Name() string { return m.name }

func (m *Model) PrimaryKey() string { return m.primaryKey }

func (m *Model) Convention() NamingConvention { return m.convention }

func (m *Model) String() string { return m.name }

// Attributes returns the attribute descriptors in declaration order.
func (m *Model) Attributes() []AttributeDescriptor {
	out := make([]AttributeDescriptor, len(m.attrs))
	for i, a := range m.attrs {
		out[i] = *a
	}
	return out
}

func (m *Model) Attribute(name string) (AttributeDescriptor, bool) {
	a, ok := m.attrByName[name]
	if !ok {
		return AttributeDescriptor{}, false
	}
	return *a, true
}

// Associations returns the association descriptors in declaration order.
func (m *Model) Associations() []AssociationDescriptor {
	out := make([]AssociationDescriptor, len(m.assocs))
	for i, a := range m.assocs {
		out[i] = *a
	}
	return out
}

func (m *Model) Association(name string) (AssociationDescriptor, bool) {
	a, ok := m.assocByName[name]
	if !ok {
		return AssociationDescriptor{}, false
	}
	return *a, true
}

func (m *Model) attributesWithKey(key string) []*AttributeDescriptor {
	var out []*AttributeDescriptor
	for _, a := range m.attrs {
		if a.Key == key {
			out = append(out, a)
		}
	}
	return out
}

func (m *Model) associationsWithKey(key string) []*AssociationDescriptor {
	var out []*AssociationDescriptor
	for _, a := range m.assocs {
		if a.Key == key {
			out = append(out, a)
		}
	}
	return out
}
