package dstore

// Predicate decides membership of a record in a FilteredCollection.
type Predicate func(r *Record) bool

// FilteredCollection is a live view of the records of one model that
// satisfy a predicate. Records join at the end when they start matching
// and leave when they stop; unrelated changes never reorder it.
type FilteredCollection struct {
	store     *Store
	model     *Model
	predicate Predicate
	records   []*Record
	members   map[*Record]struct{}
	closed    bool
}

// Filter registers a live view. Current records are evaluated in creation order.
func (s *Store) Filter(m *Model, predicate Predicate) *FilteredCollection {
	c := &FilteredCollection{
		store:     s,
		model:     m,
		predicate: predicate,
		members:   make(map[*Record]struct{}),
	}

	_ = s.autorun(func() {
		b := s.bucket(m)
		b.collections = append(b.collections, c)
		b.records.Ascend(nil, func(item interface{}) bool {
			c.evaluate(item.(*Record))
			return true
		})
	})

	return c
}

func (s *Store) reevaluate(r *Record) {
	b, ok := s.buckets[r.model]
	if !ok {
		return
	}

	for _, c := range b.collections {
		c.evaluate(r)
	}
}

func visible(r *Record) bool {
	switch r.state {
	case StateEmpty, StateDeleted, StateDestroyed:
		return false
	}
	return r.resident
}

func (c *FilteredCollection) evaluate(r *Record) {
	match := visible(r) && c.predicate(r)
	_, member := c.members[r]

	switch {
	case match && !member:
		c.members[r] = struct{}{}
		c.records = append(c.records, r)
	case !match && member:
		delete(c.members, r)
		c.records = removeRecord(c.records, r)
	}
}

func (c *FilteredCollection) Model() *Model { return c.model }

func (c *FilteredCollection) Len() int { return len(c.records) }

func (c *FilteredCollection) At(i int) *Record {
	if i < 0 || i >= len(c.records) {
		return nil
	}
	return c.records[i]
}

// Records returns a copy of the current members in membership order.
func (c *FilteredCollection) Records() []*Record {
	out := make([]*Record, len(c.records))
	copy(out, c.records)
	return out
}

func (c *FilteredCollection) Contains(r *Record) bool {
	_, ok := c.members[r]
	return ok
}

// Close stops the collection from tracking changes. Its last contents stay readable.
func (c *FilteredCollection) Close() {
	if c.closed {
		return
	}
	c.closed = true

	b, ok := c.store.buckets[c.model]
	if !ok {
		return
	}

	out := b.collections[:0]
	for _, x := range b.collections {
		if x != c {
			out = append(out, x)
		}
	}
	b.collections = out
}
