package dstore

import "github.com/stoewer/go-strcase"

// NamingConvention maps property names to wire keys for fields
// that were declared without an explicit key.
type NamingConvention interface {
	StorageKey(name string) string
	ForeignKey(name string) string
}

// IdentityConvention leaves names untouched.
type IdentityConvention struct{}

func (IdentityConvention) StorageKey(name string) string { return name }

func (IdentityConvention) ForeignKey(name string) string { return name }

// UnderscoreConvention turns firstName into first_name and owner into owner_id.
type UnderscoreConvention struct{}

func (UnderscoreConvention) StorageKey(name string) string {
	return strcase.SnakeCase(name)
}

func (UnderscoreConvention) ForeignKey(name string) string {
	return strcase.SnakeCase(name) + "_id"
}

// ConventionFuncs adapts plain functions. A nil function leaves names untouched.
type ConventionFuncs struct {
	Key     func(name string) string
	Foreign func(name string) string
}

func (c ConventionFuncs) StorageKey(name string) string {
	if c.Key == nil {
		return name
	}
	return c.Key(name)
}

func (c ConventionFuncs) ForeignKey(name string) string {
	if c.Foreign == nil {
		return name
	}
	return c.Foreign(name)
}

func conventionByName(name string) (NamingConvention, bool) {
	switch name {
	case "", "identity":
		return IdentityConvention{}, true
	case "underscore", "snake", "snake_case":
		return UnderscoreConvention{}, true
	}
	return nil, false
}
