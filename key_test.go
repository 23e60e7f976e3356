package querykit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/querykit"
)

func TestComposeIdentity(t *testing.T) {
	base := querykit.Key{"user"}
	compose := querykit.Compose(base)

	assert.True(t, compose(nil).Equal(base))
	assert.True(t, compose(querykit.Key{}).Equal(base))
	assert.True(t, compose(querykit.Key{7}).Equal(querykit.Key{"user", 7}))

	// no aliasing of base or suffix
	k := compose(querykit.Key{1})
	k[0] = "mutated"
	assert.Equal(t, "user", base[0])
	assert.Equal(t, "user", compose(nil)[0])
}

func TestKeyEquality(t *testing.T) {
	a := querykit.Key{"list", map[string]any{"page": 1, "sort": "asc"}}
	b := querykit.Key{"list", map[string]any{"sort": "asc", "page": 1}}
	assert.True(t, a.Equal(b), "map ordering does not matter")
	assert.Equal(t, a.ID(), b.ID())

	assert.False(t, querykit.Key{1}.Equal(querykit.Key{2}))
	assert.False(t, querykit.Key{"1"}.Equal(querykit.Key{1}))
	assert.False(t, querykit.Key{[]any{1, 2}}.Equal(querykit.Key{1, 2}))

	type filter struct {
		Status string
		Limit  int
	}
	assert.True(t, querykit.Key{filter{"open", 10}}.Equal(querykit.Key{filter{"open", 10}}))
	assert.False(t, querykit.Key{filter{"open", 10}}.Equal(querykit.Key{filter{"open", 20}}))
}

func TestKeyHasPrefix(t *testing.T) {
	k := querykit.Key{"user", 7, "posts"}
	assert.True(t, k.HasPrefix(nil))
	assert.True(t, k.HasPrefix(querykit.Key{"user"}))
	assert.True(t, k.HasPrefix(querykit.Key{"user", 7}))
	assert.True(t, k.HasPrefix(k))
	assert.False(t, k.HasPrefix(querykit.Key{"use"}))
	assert.False(t, k.HasPrefix(querykit.Key{"user", 70}))
	assert.False(t, k.HasPrefix(querykit.Key{"user", 7, "posts", 1}))
}

func TestKeyUnencodableSegment(t *testing.T) {
	ch := make(chan int)
	k := querykit.Key{"c", ch}
	assert.True(t, k.Equal(querykit.Key{"c", ch}))
	assert.NotPanics(t, func() { _ = k.String() })
}

type userArgs struct {
	ID   int
	Tags []string
}

func (a userArgs) KeySegments() []any { return []any{a.ID} }

func TestArgSegments(t *testing.T) {
	assert.Nil(t, querykit.ArgSegments(nil))
	assert.Nil(t, querykit.ArgSegments(querykit.NoArgs{}))
	assert.Nil(t, querykit.ArgSegments(struct{}{}))
	assert.Equal(t, []any{1, 2}, querykit.ArgSegments([]int{1, 2}))
	assert.Equal(t, []any{"a", "b"}, querykit.ArgSegments([2]string{"a", "b"}))
	assert.Equal(t, []any{7}, querykit.ArgSegments(7))
	assert.Equal(t, []any{3}, querykit.ArgSegments(userArgs{ID: 3, Tags: []string{"x"}}))
	assert.Equal(t, []any{[]byte("raw")}, querykit.ArgSegments([]byte("raw")))
}
