package dstore

import (
	"github.com/pkg/errors"
)

// Commit sends every record with uncommitted intent that is neither
// pending nor in flight to the adapter: creates first, then updates, then
// deletes, each group in creation order. Inside a batch the dispatch is
// deferred until the outermost batch ends, which then reports its errors.
func (s *Store) Commit() error {
	if s.depth > 0 {
		s.commitRequested = true
		return nil
	}

	return s.autorun(func() {
		s.commitRequested = true
	})
}

func (s *Store) eligible(r *Record) operation {
	if r.saving || r.owner != nil || len(r.dependsOn) > 0 {
		return opNone
	}
	return r.state.pendingOperation()
}

func (s *Store) dispatch() {
	var creates, updates, deletes []*Record

	for _, m := range s.models {
		s.buckets[m].records.Ascend(nil, func(item interface{}) bool {
			r := item.(*Record)
			switch s.eligible(r) {
			case opCreate:
				creates = append(creates, r)
			case opUpdate:
				updates = append(updates, r)
			case opDelete:
				deletes = append(deletes, r)
			}
			return true
		})
	}

	total := len(creates) + len(updates) + len(deletes)
	if total == 0 {
		return
	}

	if s.adapter == nil {
		s.dispatchErr = errors.Wrapf(ErrNoAdapter, "%d record(s) left uncommitted", total)
		return
	}

	s.logger.Debug("commit dispatch", "creates", len(creates), "updates", len(updates), "deletes", len(deletes))

	s.dispatching = true
	defer func() { s.dispatching = false }()

	for _, r := range creates {
		s.send(r, opCreate)
	}
	for _, r := range updates {
		s.send(r, opUpdate)
	}
	for _, r := range deletes {
		s.send(r, opDelete)
	}
}

func (s *Store) send(r *Record, op operation) {
	r.snapshot = r.toJSON(serializeOptions{associations: true})
	r.saving = true
	r.changedInFlight = false
	s.touch(r)

	s.logger.Debug("dispatching record", "op", op.String(), "record", r.String())

	var err error
	switch op {
	case opCreate:
		err = s.adapter.CreateRecord(s, r.model, r)
	case opUpdate:
		err = s.adapter.UpdateRecord(s, r.model, r)
	case opDelete:
		err = s.adapter.DeleteRecord(s, r.model, r)
	}

	if err != nil {
		s.fail(r, err)
	}
}

// DidCreateRecord completes a create. The hash is what the backend stored;
// it must carry the identity under the primary key unless the record
// already had one.
func (s *Store) DidCreateRecord(r *Record, hash Hash) {
	_ = s.autorun(func() {
		if !s.completing(r, "create") {
			return
		}

		id := r.id
		if v, ok := hash[r.model.primaryKey]; ok && v != nil {
			id = v
		}

		if id == nil {
			s.fail(r, errors.Wrapf(ErrMissingIdentity, "create of %s completed without identity", r))
			return
		}

		s.assignIdentity(r, id)
		s.complete(r, hash)
	})
}

// DidUpdateRecord completes an update. The hash may be nil when the
// backend echoes nothing back.
func (s *Store) DidUpdateRecord(r *Record, hash Hash) {
	_ = s.autorun(func() {
		if !s.completing(r, "update") {
			return
		}
		s.complete(r, hash)
	})
}

func (s *Store) DidDeleteRecord(r *Record) {
	_ = s.autorun(func() {
		if !s.completing(r, "delete") {
			return
		}
		r.err = nil
		s.logger.Debug("record destroyed", "record", r.String())
		s.destroy(r)
	})
}

// DidFailRecord leaves the record in its uncommitted state with the error
// attached. Failures arriving during a commit dispatch are returned by it;
// all failures are reported to the failure observers.
func (s *Store) DidFailRecord(r *Record, err error) {
	_ = s.autorun(func() {
		if !r.saving {
			s.logger.Warn("failure for record not in flight", "record", r.String(), "error", err)
			return
		}
		s.fail(r, err)
	})
}

func (s *Store) fail(r *Record, err error) {
	if err == nil {
		err = ErrAdapterFailure
	}

	r.saving = false
	r.changedInFlight = false
	r.err = err
	s.touch(r)

	s.logger.Error("adapter failure", "record", r.String(), "error", err)

	if s.dispatching {
		s.failures = append(s.failures, Failure{Record: r, Err: err})
	}

	for _, fn := range s.observers {
		fn(r, err)
	}

	// a new record deleted while its create was in flight was never stored
	if r.state == StateDeleted && r.id == nil {
		s.destroy(r)
	}
}

func (s *Store) completing(r *Record, op string) bool {
	if r.saving {
		return true
	}

	s.logger.Warn("completion for record not in flight", "op", op, "record", r.String())
	return false
}

func (s *Store) assignIdentity(r *Record, id interface{}) {
	if r.id != nil && identityKey(r.id) == identityKey(id) {
		return
	}

	b := s.bucket(r.model)
	if r.id != nil {
		delete(b.byID, identityKey(r.id))
	}

	key := identityKey(id)
	if other, ok := b.byID[key]; ok && other != r {
		s.logger.Warn("identity collision, replacing resident record", "model", r.model.name, "id", id)
		s.unregister(other)
	}

	r.id = id
	if r.resident {
		b.byID[key] = r
	}
}

// complete folds the dispatched snapshot and the backend's answer into
// the raw hash and settles the record's state.
func (s *Store) complete(r *Record, hash Hash) {
	r.saving = false
	r.err = nil
	s.settleOwned(r)

	for k, v := range r.snapshot {
		r.raw[k] = v
	}

	for k, v := range hash {
		if sv, ok := r.snapshot[k]; ok && equalValues(sv, v) {
			continue
		}
		r.raw[k] = v
		s.invalidate(r, k)
	}

	switch {
	case r.state == StateDeleted:
	case r.changedInFlight:
		r.state = StateDirty
	default:
		r.state = StateLoaded
	}
	r.changedInFlight = false

	s.logger.Debug("record committed", "record", r.String(), "state", r.state.String())

	s.resolveDependents(r)
	s.touch(r)
}

// settleOwned marks the embedded children persisted along with their owner as clean.
func (s *Store) settleOwned(owner *Record) {
	settle := func(child *Record) {
		if child == nil || child.owner != owner {
			return
		}
		switch child.state {
		case StateDirty, StateNew, StateNewDirty:
			child.state = StateLoaded
			s.touch(child)
		}
		s.settleOwned(child)
	}

	for _, a := range owner.model.assocs {
		if !a.Embedded {
			continue
		}

		if h, ok := owner.hasMany[a.Name]; ok {
			for _, m := range h.members {
				settle(m.rec)
			}
		}

		if target, ok := owner.belongsTo[a.Name]; ok {
			settle(target)
		}
	}
}
