package dstore

import (
	"fmt"
	"strings"

	"github.com/denismitr/dstore/coerce"
	"github.com/pkg/errors"
)

var ErrUnknownAttributeType = coerce.ErrUnknownType
var ErrMalformedDeclaration = errors.New("malformed model declaration")
var ErrUnknownAttribute = errors.New("unknown attribute")
var ErrMissingIdentity = errors.New("hash has no identity")
var ErrRecordDestroyed = errors.New("record is destroyed")
var ErrNoAdapter = errors.New("store has no adapter")
var ErrAdapterFailure = errors.New("adapter failure")
var ErrInvalidExpression = errors.New("invalid filter expression")
var ErrInvalidSchema = errors.New("invalid schema")
var ErrInvalidJSON = errors.New("invalid json")

// Failure is one record an adapter could not persist.
type Failure struct {
	Record *Record
	Err    error
}

// CommitError collects the failures of one commit dispatch.
type CommitError struct {
	Failures []Failure
}

func (e *CommitError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %v", f.Record, f.Err))
	}

	return fmt.Sprintf("%s: %d record(s) failed: %s", ErrAdapterFailure, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *CommitError) Is(target error) bool {
	return target == ErrAdapterFailure
}

func (e *CommitError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
