package dstore_test

import (
	"testing"

	"github.com/denismitr/dstore"
	"github.com/denismitr/dstore/coerce"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blogModels(t *testing.T) (post, comment *dstore.Model) {
	t.Helper()
	post = dstore.Declare("post")
	comment = dstore.Declare("comment")

	require.NoError(t, post.Define(
		dstore.Attr("title", coerce.String),
		dstore.HasMany("comments", comment),
	))
	require.NoError(t, comment.Define(
		dstore.Attr("body", coerce.String),
		dstore.BelongsTo("post", post),
	))
	return post, comment
}

func contactModels() (contact, phone, address *dstore.Model) {
	phone = dstore.MustDefine("phoneNumber", dstore.Attr("number", coerce.String))
	address = dstore.MustDefine("address", dstore.Attr("street", coerce.String))
	contact = dstore.MustDefine("contact",
		dstore.Attr("name", coerce.String),
		dstore.HasMany("phoneNumbers", phone, dstore.Embedded()),
		dstore.BelongsTo("address", address, dstore.Embedded()),
	)
	return contact, phone, address
}

func TestHasMany_Referenced(t *testing.T) {
	t.Run("serializes identities and tracks pushes", func(t *testing.T) {
		post, comment := blogModels(t)
		s := newStore(nil)

		p, err := s.Load(post, dstore.Hash{"id": 1, "title": "Hello", "comments": []interface{}{7, 8}})
		require.NoError(t, err)

		comments := p.HasMany("comments")
		require.NotNil(t, comments)
		assert.Equal(t, []interface{}{7, 8}, comments.IDs())
		assert.Equal(t, []interface{}{7, 8}, p.ToJSON(dstore.IncludeAssociations())["comments"])
		assert.NotContains(t, p.ToJSON(), "comments", "associations are opt in")

		c, err := s.Load(comment, dstore.Hash{"id": 9, "body": "third"})
		require.NoError(t, err)
		require.NoError(t, comments.Push(c))

		assert.Equal(t, []interface{}{7, 8, 9}, p.ToJSON(dstore.IncludeAssociations())["comments"])
		assert.True(t, p.IsDirty())
		assert.Same(t, comments, p.HasMany("comments"))
	})

	t.Run("members resolve through the identity map", func(t *testing.T) {
		post, comment := blogModels(t)
		adapter := &recordingAdapter{}
		s := newStore(adapter)

		loaded, err := s.Load(comment, dstore.Hash{"id": 7, "body": "first"})
		require.NoError(t, err)
		p, err := s.Load(post, dstore.Hash{"id": 1, "comments": []interface{}{7, 8}})
		require.NoError(t, err)

		comments := p.HasMany("comments")
		assert.Same(t, loaded, comments.At(0))
		assert.Empty(t, adapter.finds)

		missing := comments.At(1)
		assert.Equal(t, 8, missing.ID())
		assert.False(t, missing.IsLoaded())
		assert.Equal(t, []interface{}{8}, adapter.finds)

		assert.Nil(t, comments.At(2))
		assert.Len(t, comments.Records(), 2)
		assert.Nil(t, p.HasMany("title"), "attributes are not associations")
	})

	t.Run("reloading the owner replaces the membership", func(t *testing.T) {
		post, comment := blogModels(t)
		s := newStore(nil)

		p, err := s.Load(post, dstore.Hash{"id": 1, "comments": []interface{}{7}})
		require.NoError(t, err)
		comments := p.HasMany("comments")
		assert.Equal(t, []interface{}{7}, comments.IDs())

		_, err = s.Load(post, dstore.Hash{"id": 1, "comments": []interface{}{10, 11}})
		require.NoError(t, err)
		assert.Same(t, comments, p.HasMany("comments"))
		assert.Equal(t, []interface{}{10, 11}, comments.IDs())

		twelve, err := s.Load(comment, dstore.Hash{"id": 12})
		require.NoError(t, err)
		require.NoError(t, comments.Push(twelve))
		assert.Equal(t, []interface{}{10, 11, 12}, p.ToJSON(dstore.IncludeAssociations())["comments"])
	})

	t.Run("pushing a new record makes the owner wait for it", func(t *testing.T) {
		post, comment := blogModels(t)
		adapter := &recordingAdapter{}
		s := newStore(adapter)

		p, err := s.Load(post, dstore.Hash{"id": 1, "title": "Hello"})
		require.NoError(t, err)
		c := s.CreateRecord(comment, dstore.Hash{"body": "new"})

		require.NoError(t, p.HasMany("comments").Push(c))
		assert.True(t, p.IsPending())

		require.NoError(t, s.Commit())
		assert.Equal(t, []string{"create"}, adapter.ops())
		assert.False(t, p.IsPending())

		require.NoError(t, s.Commit())
		assert.Equal(t, []string{"create", "update"}, adapter.ops())
		assert.Equal(t, []interface{}{1}, adapter.calls[1].snapshot["comments"])
	})

	t.Run("remove and replace", func(t *testing.T) {
		post, comment := blogModels(t)
		s := newStore(nil)

		p, err := s.Load(post, dstore.Hash{"id": 1, "comments": []interface{}{7, 8}})
		require.NoError(t, err)
		comments := p.HasMany("comments")

		removed, err := comments.Remove(nil)
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, []interface{}{7, 8}, comments.IDs())
		assert.False(t, p.IsDirty())

		eight, err := s.Load(comment, dstore.Hash{"id": 8})
		require.NoError(t, err)

		removed, err = comments.Remove(eight)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, []interface{}{7}, comments.IDs())

		removed, err = comments.Remove(eight)
		require.NoError(t, err)
		assert.False(t, removed)

		other, err := s.Load(comment, dstore.Hash{"id": 20})
		require.NoError(t, err)
		require.NoError(t, comments.Replace(other, eight))
		assert.Equal(t, []interface{}{20, 8}, comments.IDs())
		assert.True(t, p.IsDirty())
	})

	t.Run("pushes are checked", func(t *testing.T) {
		post, comment := blogModels(t)
		s := newStore(nil)

		p, err := s.Load(post, dstore.Hash{"id": 1})
		require.NoError(t, err)
		comments := p.HasMany("comments")

		err = comments.Push(p)
		assert.True(t, errors.Is(err, dstore.ErrMalformedDeclaration))

		gone := s.CreateRecord(comment, nil)
		gone.DeleteRecord()
		err = comments.Push(gone)
		assert.True(t, errors.Is(err, dstore.ErrRecordDestroyed))
		assert.Equal(t, 0, comments.Len())
	})
}

func TestHasMany_Embedded(t *testing.T) {
	t.Run("serializes children inline", func(t *testing.T) {
		contact, phone, _ := contactModels()
		s := newStore(nil)

		c, err := s.Load(contact, dstore.Hash{
			"id":   1,
			"name": "Tom",
			"phoneNumbers": []interface{}{
				dstore.Hash{"number": "555-1"},
				map[string]interface{}{"id": 7, "number": "555-2"},
			},
		})
		require.NoError(t, err)

		phones := c.HasMany("phoneNumbers")
		require.Equal(t, 2, phones.Len())
		assert.True(t, phones.Embedded())
		assert.Equal(t, "phoneNumbers", phones.Name())

		first, second := phones.At(0), phones.At(1)
		assert.Same(t, c, first.Owner())
		assert.Equal(t, "555-1", first.Get("number"))

		resident, ok := s.Resident(phone, 7)
		require.True(t, ok, "children with an identity are resident")
		assert.Same(t, resident, second)
		assert.Same(t, c, second.Owner())

		assert.Equal(t, []interface{}{
			dstore.Hash{"number": "555-1"},
			dstore.Hash{"id": 7, "number": "555-2"},
		}, c.ToJSON(dstore.IncludeAssociations())["phoneNumbers"])
	})

	t.Run("children are persisted with their owner", func(t *testing.T) {
		contact, _, _ := contactModels()
		adapter := &recordingAdapter{}
		s := newStore(adapter)

		c, err := s.Load(contact, dstore.Hash{
			"id": 1,
			"phoneNumbers": []interface{}{
				dstore.Hash{"number": "555-1"},
				dstore.Hash{"id": 7, "number": "555-2"},
			},
		})
		require.NoError(t, err)

		phones := c.HasMany("phoneNumbers")
		first, second := phones.At(0), phones.At(1)

		require.NoError(t, first.Set("number", "555-9"))
		require.NoError(t, second.Set("number", "555-8"))
		assert.True(t, c.IsDirty(), "changing a child dirties the owner")

		require.NoError(t, s.Commit())

		assert.Equal(t, []string{"update"}, adapter.ops())
		assert.Same(t, c, adapter.calls[0].record)
		assert.Equal(t, []interface{}{
			dstore.Hash{"number": "555-9"},
			dstore.Hash{"id": 7, "number": "555-8"},
		}, adapter.calls[0].snapshot["phoneNumbers"])

		assert.False(t, c.IsDirty())
		assert.False(t, first.IsDirty())
		assert.False(t, second.IsDirty())
	})

	t.Run("pushed children belong to the owner", func(t *testing.T) {
		contact, phone, _ := contactModels()
		adapter := &recordingAdapter{}
		s := newStore(adapter)

		c, err := s.Load(contact, dstore.Hash{"id": 1})
		require.NoError(t, err)

		p := s.CreateRecord(phone, dstore.Hash{"number": "555-3"})
		require.NoError(t, c.HasMany("phoneNumbers").Push(p))
		assert.Same(t, c, p.Owner())
		assert.False(t, c.IsPending(), "embedded children never block their owner")

		require.NoError(t, s.Commit())
		assert.Equal(t, []string{"update"}, adapter.ops())
		assert.False(t, p.IsNew())

		removed, err := c.HasMany("phoneNumbers").Remove(p)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Nil(t, p.Owner())
	})
}

func TestBelongsTo(t *testing.T) {
	t.Run("referenced", func(t *testing.T) {
		post, comment := blogModels(t)
		s := newStore(nil)

		c, err := s.Load(comment, dstore.Hash{"id": 1, "post": 5})
		require.NoError(t, err)

		p := c.BelongsTo("post")
		require.NotNil(t, p)
		assert.Equal(t, 5, p.ID())
		assert.Same(t, p, s.Find(post, 5))
		assert.Equal(t, 5, c.ToJSON(dstore.IncludeAssociations())["post"])

		require.NoError(t, c.SetBelongsTo("post", nil))
		assert.Nil(t, c.BelongsTo("post"))
		data := c.ToJSON(dstore.IncludeAssociations())
		assert.Contains(t, data, "post")
		assert.Nil(t, data["post"])

		fresh := s.CreateRecord(post, nil)
		require.NoError(t, c.SetBelongsTo("post", fresh))
		assert.True(t, c.IsPending())
		assert.Same(t, fresh, c.BelongsTo("post"))
	})

	t.Run("setting is checked", func(t *testing.T) {
		post, comment := blogModels(t)
		s := newStore(nil)

		c, err := s.Load(comment, dstore.Hash{"id": 1})
		require.NoError(t, err)
		assert.Nil(t, c.BelongsTo("post"))

		err = c.SetBelongsTo("author", nil)
		assert.True(t, errors.Is(err, dstore.ErrUnknownAttribute))

		err = c.SetBelongsTo("post", c)
		assert.True(t, errors.Is(err, dstore.ErrMalformedDeclaration))

		p, err := s.Load(post, dstore.Hash{"id": 2})
		require.NoError(t, err)
		require.NoError(t, c.SetBelongsTo("post", p))
		assert.False(t, c.IsPending())
		assert.Equal(t, 2, c.ToJSON(dstore.IncludeAssociations())["post"])
	})

	t.Run("embedded", func(t *testing.T) {
		contact, _, address := contactModels()
		adapter := &recordingAdapter{}
		s := newStore(adapter)

		c, err := s.Load(contact, dstore.Hash{"id": 1, "address": dstore.Hash{"street": "Main"}})
		require.NoError(t, err)

		a := c.BelongsTo("address")
		require.NotNil(t, a)
		assert.Equal(t, "Main", a.GetString("street"))
		assert.Same(t, c, a.Owner())

		next := s.CreateRecord(address, dstore.Hash{"street": "Elm"})
		require.NoError(t, c.SetBelongsTo("address", next))
		assert.Nil(t, a.Owner())
		assert.Same(t, c, next.Owner())

		require.NoError(t, s.Commit())
		assert.Equal(t, []string{"update"}, adapter.ops())
		assert.Equal(t, dstore.Hash{"street": "Elm"}, adapter.calls[0].snapshot["address"])
		assert.False(t, next.IsDirty())
	})
}
