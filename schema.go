package dstore

import (
	"bytes"
	"io"

	"github.com/denismitr/dstore/coerce"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Schema is a set of models declared together in YAML:
//
//	models:
//	  contact:
//	    primaryKey: id
//	    namingConvention: underscore
//	    attributes:
//	      name: string
//	      country: { type: string, default: US, key: country_code }
//	    associations:
//	      phoneNumbers: { hasMany: phoneNumber, embedded: true }
//	      owner: { belongsTo: user }
type Schema struct {
	models []*Model
	byName map[string]*Model
}

type schemaFile struct {
	Models modelSpecs `yaml:"models"`
}

type modelSpecs []namedModelSpec

type namedModelSpec struct {
	name string
	line int
	spec modelSpec
}

type modelSpec struct {
	PrimaryKey       string     `yaml:"primaryKey"`
	NamingConvention string     `yaml:"namingConvention"`
	Attributes       attrSpecs  `yaml:"attributes"`
	Associations     assocSpecs `yaml:"associations"`
}

type attrSpecs []attrSpec

type attrSpec struct {
	name       string
	line       int
	Type       string
	Key        string
	Default    interface{}
	HasDefault bool
}

type assocSpecs []assocSpec

type assocSpec struct {
	name      string
	line      int
	HasMany   string `yaml:"hasMany"`
	BelongsTo string `yaml:"belongsTo"`
	Embedded  bool   `yaml:"embedded"`
	Key       string `yaml:"key"`
}

func mappingPairs(n *yaml.Node, what string) ([][2]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, errors.Wrapf(ErrInvalidSchema, "line %d: %s must be a mapping", n.Line, what)
	}

	pairs := make([][2]*yaml.Node, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, [2]*yaml.Node{n.Content[i], n.Content[i+1]})
	}
	return pairs, nil
}

// knownKeys rejects mapping keys outside allowed. Node.Decode does not
// inherit the decoder's KnownFields setting.
func knownKeys(n *yaml.Node, what string, allowed ...string) error {
	pairs, err := mappingPairs(n, what)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		known := false
		for _, k := range allowed {
			if p[0].Value == k {
				known = true
				break
			}
		}
		if !known {
			return errors.Wrapf(ErrInvalidSchema, "line %d: unknown field %q in %s", p[0].Line, p[0].Value, what)
		}
	}
	return nil
}

func (s *modelSpecs) UnmarshalYAML(value *yaml.Node) error {
	pairs, err := mappingPairs(value, "models")
	if err != nil {
		return err
	}

	for _, p := range pairs {
		var spec modelSpec
		if p[1].Kind != yaml.ScalarNode || p[1].Tag != "!!null" {
			if err := knownKeys(p[1], "model "+p[0].Value, "primaryKey", "namingConvention", "attributes", "associations"); err != nil {
				return err
			}
			if err := p[1].Decode(&spec); err != nil {
				return err
			}
		}
		*s = append(*s, namedModelSpec{name: p[0].Value, line: p[0].Line, spec: spec})
	}
	return nil
}

func (s *attrSpecs) UnmarshalYAML(value *yaml.Node) error {
	pairs, err := mappingPairs(value, "attributes")
	if err != nil {
		return err
	}

	for _, p := range pairs {
		a := attrSpec{name: p[0].Value, line: p[0].Line}

		if p[1].Kind == yaml.ScalarNode {
			a.Type = p[1].Value
			*s = append(*s, a)
			continue
		}

		if err := knownKeys(p[1], "attribute "+a.name, "type", "key", "default"); err != nil {
			return err
		}

		var raw struct {
			Type    string    `yaml:"type"`
			Key     string    `yaml:"key"`
			Default yaml.Node `yaml:"default"`
		}
		if err := p[1].Decode(&raw); err != nil {
			return err
		}

		a.Type, a.Key = raw.Type, raw.Key
		if raw.Default.Kind != 0 {
			if err := raw.Default.Decode(&a.Default); err != nil {
				return err
			}
			a.HasDefault = true
		}
		*s = append(*s, a)
	}
	return nil
}

func (s *assocSpecs) UnmarshalYAML(value *yaml.Node) error {
	pairs, err := mappingPairs(value, "associations")
	if err != nil {
		return err
	}

	for _, p := range pairs {
		if err := knownKeys(p[1], "association "+p[0].Value, "hasMany", "belongsTo", "embedded", "key"); err != nil {
			return err
		}

		type rawAssocSpec assocSpec
		var raw rawAssocSpec
		if err := p[1].Decode(&raw); err != nil {
			return err
		}

		a := assocSpec(raw)
		a.name, a.line = p[0].Value, p[0].Line
		*s = append(*s, a)
	}
	return nil
}

// ParseSchema defines every model of a YAML schema. Models may reference
// each other in any order. A nil registry means the builtin types.
func ParseSchema(data []byte, types *coerce.Registry) (*Schema, error) {
	var f schemaFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, errors.Wrap(ErrInvalidSchema, "schema is empty")
		}
		return nil, errors.Wrap(ErrInvalidSchema, err.Error())
	}

	if len(f.Models) == 0 {
		return nil, errors.Wrap(ErrInvalidSchema, "no models declared")
	}

	s := &Schema{byName: make(map[string]*Model, len(f.Models))}
	for _, nm := range f.Models {
		if _, dup := s.byName[nm.name]; dup {
			return nil, errors.Wrapf(ErrInvalidSchema, "line %d: model %s declared twice", nm.line, nm.name)
		}
		m := Declare(nm.name)
		s.models = append(s.models, m)
		s.byName[nm.name] = m
	}

	for _, nm := range f.Models {
		opts, err := s.options(nm, types)
		if err != nil {
			return nil, err
		}

		if err := s.byName[nm.name].Define(opts...); err != nil {
			return nil, errors.Wrapf(err, "line %d", nm.line)
		}
	}

	return s, nil
}

func (s *Schema) options(nm namedModelSpec, types *coerce.Registry) ([]ModelOption, error) {
	var opts []ModelOption

	if nm.spec.PrimaryKey != "" {
		opts = append(opts, PrimaryKey(nm.spec.PrimaryKey))
	}

	convention, ok := conventionByName(nm.spec.NamingConvention)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidSchema, "line %d: model %s has unknown naming convention %q", nm.line, nm.name, nm.spec.NamingConvention)
	}
	opts = append(opts, WithNamingConvention(convention))

	if types != nil {
		opts = append(opts, WithTypes(types))
	}

	for _, a := range nm.spec.Attributes {
		var fo []FieldOption
		if a.Key != "" {
			fo = append(fo, Key(a.Key))
		}
		if a.HasDefault {
			fo = append(fo, Default(a.Default))
		}
		opts = append(opts, Attr(a.name, a.Type, fo...))
	}

	for _, a := range nm.spec.Associations {
		if (a.HasMany == "") == (a.BelongsTo == "") {
			return nil, errors.Wrapf(ErrInvalidSchema, "line %d: association %s.%s needs exactly one of hasMany or belongsTo", a.line, nm.name, a.name)
		}

		targetName, declare := a.HasMany, HasMany
		if a.BelongsTo != "" {
			targetName, declare = a.BelongsTo, BelongsTo
		}

		target, ok := s.byName[targetName]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidSchema, "line %d: association %s.%s targets unknown model %s", a.line, nm.name, a.name, targetName)
		}

		var fo []FieldOption
		if a.Key != "" {
			fo = append(fo, Key(a.Key))
		}
		if a.Embedded {
			fo = append(fo, Embedded())
		}
		opts = append(opts, declare(a.name, target, fo...))
	}

	return opts, nil
}

func (s *Schema) Model(name string) (*Model, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// Models returns the models in declaration order.
func (s *Schema) Models() []*Model {
	out := make([]*Model, len(s.models))
	copy(out, s.models)
	return out
}
