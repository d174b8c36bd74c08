package dstore

import (
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/denismitr/dstore/coerce"
	"github.com/denismitr/dstore/internal/lru"
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

type programCache interface {
	Add(key uint64, value interface{}) bool
	Get(key uint64) (interface{}, bool)
}

type compiledProgram struct {
	expression string
	program    *exprvm.Program
}

func newProgramCache(size, shards int, logger *slog.Logger) programCache {
	if size < 0 {
		return lru.NullCache{}
	}

	if shards > size {
		shards = 1
	}

	c, err := lru.NewCache(shards, size, nil)
	if err != nil {
		logger.Warn("expression cache disabled", "size", size, "shards", shards, "error", err)
		return lru.NullCache{}
	}
	return c
}

func (s *Store) compile(expression string) (*exprvm.Program, error) {
	key := xxhash.Sum64String(expression)
	if cached, ok := s.programs.Get(key); ok {
		if cp, ok := cached.(compiledProgram); ok && cp.expression == expression {
			return cp.program, nil
		}
	}

	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]interface{}{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidExpression, "%q: %v", expression, err)
	}

	s.programs.Add(key, compiledProgram{expression: expression, program: program})
	return program, nil
}

// FilterExpr is Filter with the predicate written as an expr-lang boolean
// expression over the record's attributes and its id, for example
// `age >= 21 && name matches "Katz$"`. Records the expression fails to
// evaluate for do not match.
func (s *Store) FilterExpr(m *Model, expression string) (*FilteredCollection, error) {
	program, err := s.compile(expression)
	if err != nil {
		return nil, err
	}

	return s.Filter(m, func(r *Record) bool {
		out, err := exprlang.Run(program, r.env())
		if err != nil {
			s.logger.Debug("filter expression failed", "expression", expression, "record", r.String(), "error", err)
			return false
		}

		match, _ := out.(bool)
		return match
	}), nil
}

func (r *Record) env() map[string]interface{} {
	env := make(map[string]interface{}, len(r.model.attrs)+1)
	for _, a := range r.model.attrs {
		v := r.Get(a.Name)
		if coerce.IsUndefined(v) {
			v = nil
		}
		env[a.Name] = v
	}
	env[defaultPrimaryKey] = r.id
	if r.model.primaryKey != defaultPrimaryKey {
		env[r.model.primaryKey] = r.id
	}
	return env
}
