package dstore

import (
	"github.com/pkg/errors"
)

// Association is the live handle of a hasMany field. Referenced members
// are kept as identities and resolved through the Store on access;
// embedded members are owned child records.
type Association struct {
	owner   *Record
	desc    *AssociationDescriptor
	members []member
}

type member struct {
	id  interface{}
	rec *Record
}

// HasMany returns the handle of a hasMany association, nil for unknown names.
// The handle is the same for the life of the record; loads that change the
// association's key rebuild its membership in place.
func (r *Record) HasMany(name string) *Association {
	a, ok := r.model.assocByName[name]
	if !ok || a.Kind != HasManyKind {
		return nil
	}

	var h *Association
	_ = r.store.autorun(func() {
		h = r.association(a)
	})
	return h
}

func (r *Record) association(a *AssociationDescriptor) *Association {
	if h, ok := r.hasMany[a.Name]; ok {
		return h
	}

	h := &Association{owner: r, desc: a}
	h.members = r.members(a)
	r.hasMany[a.Name] = h
	return h
}

// members materializes the association's raw value.
func (r *Record) members(a *AssociationDescriptor) []member {
	var out []member
	items, _ := asSlice(r.raw[a.Key])
	for _, item := range items {
		if item == nil {
			continue
		}

		if !a.Embedded {
			out = append(out, member{id: item})
			continue
		}

		hash, ok := asHash(item)
		if !ok {
			r.store.logger.Warn("embedded association item is not a hash", "record", r.String(), "association", a.Name)
			continue
		}

		child := r.store.materializeEmbedded(a.Target, hash, r)
		out = append(out, member{id: child.id, rec: child})
	}
	return out
}

// reload rebuilds the membership from the owner's raw value so handles
// already given out stay live.
func (h *Association) reload() {
	for _, m := range h.members {
		if m.rec != nil && m.rec.owner == h.owner {
			m.rec.owner = nil
		}
	}
	h.members = h.owner.members(h.desc)
}

// materializeEmbedded reuses the resident record when the hash carries an
// identity and builds an owned, non-resident record otherwise.
func (s *Store) materializeEmbedded(m *Model, hash Hash, owner *Record) *Record {
	if id, ok := hash[m.primaryKey]; ok && id != nil {
		if child, err := s.load(m, hash); err == nil {
			child.owner = owner
			return child
		}
	}

	child := s.newRecord(m, StateLoaded)
	child.raw = hash.clone()
	child.owner = owner
	return child
}

func (h *Association) Owner() *Record { return h.owner }

func (h *Association) Name() string { return h.desc.Name }

func (h *Association) Embedded() bool { return h.desc.Embedded }

func (h *Association) Len() int { return len(h.members) }

// At resolves the i-th member, asking the adapter for referenced
// records that are not resident yet.
func (h *Association) At(i int) *Record {
	if i < 0 || i >= len(h.members) {
		return nil
	}

	var r *Record
	_ = h.owner.store.autorun(func() {
		r = h.resolve(i)
	})
	return r
}

func (h *Association) resolve(i int) *Record {
	m := &h.members[i]
	if m.rec == nil || m.rec.state == StateDestroyed {
		m.rec = h.owner.store.find(h.desc.Target, m.id)
	}
	return m.rec
}

func (h *Association) Records() []*Record {
	out := make([]*Record, len(h.members))
	_ = h.owner.store.autorun(func() {
		for i := range h.members {
			out[i] = h.resolve(i)
		}
	})
	return out
}

// IDs lists the member identities, nil for members not yet created.
func (h *Association) IDs() []interface{} {
	out := make([]interface{}, len(h.members))
	for i, m := range h.members {
		out[i] = m.identity()
	}
	return out
}

func (m member) identity() interface{} {
	if m.rec != nil && m.rec.id != nil {
		return m.rec.id
	}
	return m.id
}

func (h *Association) check(recs []*Record) error {
	if h.owner.state == StateDestroyed {
		return errors.Wrapf(ErrRecordDestroyed, "%s", h.owner)
	}

	for _, r := range recs {
		if r == nil {
			return errors.Wrapf(ErrMalformedDeclaration, "nil record pushed to %s", h.desc.Name)
		}

		if r.model != h.desc.Target {
			return errors.Wrapf(ErrMalformedDeclaration, "%s expects %s records, got %s", h.desc.Name, h.desc.Target.name, r.model.name)
		}

		if r.state == StateDestroyed {
			return errors.Wrapf(ErrRecordDestroyed, "%s", r)
		}
	}

	return nil
}

// Push appends records and marks the owner dirty. A referenced record
// without identity makes the owner wait until it has been created.
func (h *Association) Push(recs ...*Record) error {
	if err := h.check(recs); err != nil {
		return err
	}

	return h.owner.store.autorun(func() {
		for _, r := range recs {
			h.adopt(r)
		}
		h.owner.store.becomeDirty(h.owner)
	})
}

func (h *Association) adopt(r *Record) {
	h.members = append(h.members, member{id: r.id, rec: r})

	if h.desc.Embedded {
		r.owner = h.owner
		return
	}

	if r.id == nil {
		h.owner.store.waitOn(h.owner, r)
	}
}

// Remove drops the first member that is r, reporting whether one was found.
func (h *Association) Remove(r *Record) (bool, error) {
	if r == nil {
		return false, nil
	}

	if h.owner.state == StateDestroyed {
		return false, errors.Wrapf(ErrRecordDestroyed, "%s", h.owner)
	}

	idx := -1
	for i, m := range h.members {
		if m.rec == r || (m.rec == nil && r.id != nil && identityKey(m.id) == identityKey(r.id)) {
			idx = i
			break
		}
	}

	if idx < 0 {
		return false, nil
	}

	err := h.owner.store.autorun(func() {
		h.members = append(h.members[:idx], h.members[idx+1:]...)
		if h.desc.Embedded && r.owner == h.owner {
			r.owner = nil
		}
		h.owner.store.becomeDirty(h.owner)
	})
	return true, err
}

// Replace swaps the whole membership for recs.
func (h *Association) Replace(recs ...*Record) error {
	if err := h.check(recs); err != nil {
		return err
	}

	return h.owner.store.autorun(func() {
		for _, m := range h.members {
			if h.desc.Embedded && m.rec != nil && m.rec.owner == h.owner {
				m.rec.owner = nil
			}
		}

		h.members = nil
		for _, r := range recs {
			h.adopt(r)
		}
		h.owner.store.becomeDirty(h.owner)
	})
}

func (h *Association) serialize(o serializeOptions) []interface{} {
	out := make([]interface{}, 0, len(h.members))
	for _, m := range h.members {
		if !h.desc.Embedded {
			if id := m.identity(); id != nil {
				out = append(out, id)
			}
			continue
		}

		if m.rec != nil {
			out = append(out, m.rec.toJSON(o))
		}
	}
	return out
}

// BelongsTo returns the record a belongsTo association points at, nil when unset.
func (r *Record) BelongsTo(name string) *Record {
	a, ok := r.model.assocByName[name]
	if !ok || a.Kind != BelongsToKind {
		return nil
	}

	var target *Record
	_ = r.store.autorun(func() {
		target = r.belongsToTarget(a)
	})
	return target
}

func (r *Record) belongsToTarget(a *AssociationDescriptor) *Record {
	if target, ok := r.belongsTo[a.Name]; ok {
		return target
	}

	v := r.raw[a.Key]
	if v == nil {
		return nil
	}

	var target *Record
	if a.Embedded {
		hash, ok := asHash(v)
		if !ok {
			return nil
		}
		target = r.store.materializeEmbedded(a.Target, hash, r)
	} else {
		target = r.store.find(a.Target, v)
	}

	r.belongsTo[a.Name] = target
	return target
}

// SetBelongsTo points the association at other, or clears it when other is nil.
func (r *Record) SetBelongsTo(name string, other *Record) error {
	a, ok := r.model.assocByName[name]
	if !ok || a.Kind != BelongsToKind {
		return errors.Wrapf(ErrUnknownAttribute, "model %s has no belongsTo %s", r.model.name, name)
	}

	if r.state == StateDestroyed {
		return errors.Wrapf(ErrRecordDestroyed, "%s", r)
	}

	if other != nil {
		if other.model != a.Target {
			return errors.Wrapf(ErrMalformedDeclaration, "%s expects a %s record, got %s", name, a.Target.name, other.model.name)
		}
		if other.state == StateDestroyed {
			return errors.Wrapf(ErrRecordDestroyed, "%s", other)
		}
	}

	return r.store.autorun(func() {
		if prev, ok := r.belongsTo[a.Name]; ok && prev != nil && a.Embedded && prev.owner == r {
			prev.owner = nil
		}

		r.belongsTo[a.Name] = other
		if other != nil {
			if a.Embedded {
				other.owner = r
			} else if other.id == nil {
				r.store.waitOn(r, other)
			}
		}
		r.store.becomeDirty(r)
	})
}

func (r *Record) serializeBelongsTo(a *AssociationDescriptor, o serializeOptions) (interface{}, bool) {
	target, set := r.belongsTo[a.Name]
	if !set {
		v, present := r.raw[a.Key]
		if !present {
			return nil, false
		}
		if v == nil || !a.Embedded {
			return v, true
		}
		target = r.belongsToTarget(a)
	}

	if target == nil {
		return nil, true
	}

	if a.Embedded {
		return target.toJSON(o), true
	}

	return target.id, target.id != nil
}
