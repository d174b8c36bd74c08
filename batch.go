package dstore

// Batch coalesces collection re-evaluation and commit dispatch until its
// outermost scope ends.
type Batch struct {
	store *Store
	ended bool
}

func (s *Store) Begin() *Batch {
	s.depth++
	return &Batch{store: s}
}

// End closes the scope. Ending the outermost scope flushes pending work
// and returns the errors of the commit it dispatched, if any.
// Ending a batch twice is a no-op.
func (b *Batch) End() error {
	if b.ended {
		return nil
	}
	b.ended = true

	s := b.store
	s.depth--
	if s.depth > 0 {
		return nil
	}

	return s.flush()
}

// Run executes fn inside a batch. The error of fn takes precedence over
// the error of the flush.
func (s *Store) Run(fn func() error) error {
	b := s.Begin()
	err := fn()
	if endErr := b.End(); err == nil {
		err = endErr
	}
	return err
}

func (s *Store) autorun(fn func()) error {
	b := s.Begin()
	fn()
	return b.End()
}

func (s *Store) touch(r *Record) {
	if _, ok := s.changedSet[r]; ok {
		return
	}
	s.changedSet[r] = struct{}{}
	s.changed = append(s.changed, r)
}

// flush runs until nothing is left: membership of changed records is
// settled before each commit dispatch, and a dispatch may change more
// records through synchronous completions.
func (s *Store) flush() error {
	s.depth++
	defer func() { s.depth-- }()

	for {
		if len(s.changed) > 0 {
			changed := s.changed
			s.changed = nil
			s.changedSet = make(map[*Record]struct{})

			for _, r := range changed {
				s.reevaluate(r)
			}
			continue
		}

		if s.commitRequested {
			s.commitRequested = false
			s.dispatch()
			continue
		}

		break
	}

	return s.takeErrors()
}

func (s *Store) takeErrors() error {
	failures, dispatchErr := s.failures, s.dispatchErr
	s.failures, s.dispatchErr = nil, nil

	if dispatchErr != nil {
		return dispatchErr
	}

	if len(failures) > 0 {
		return &CommitError{Failures: failures}
	}

	return nil
}
