package querykit_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querykit"
	"github.com/unkn0wn-root/querykit/codec"
	"github.com/unkn0wn-root/querykit/persist"
	"github.com/unkn0wn-root/querykit/provider/bigcache"
	"github.com/unkn0wn-root/querykit/querycache"
)

func newClient(t *testing.T, opts querycache.Options) *querycache.Client {
	t.Helper()
	c, err := querycache.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newCreator(t *testing.T, c querykit.Client) *querykit.QueryCreator {
	t.Helper()
	qc, err := querykit.NewQueryCreator(c, querykit.CreatorOptions{})
	require.NoError(t, err)
	return qc
}

type user struct {
	ID   int
	Name string
}

// userResource counts resolver calls per id.
func userResource(calls *atomic.Int32) querykit.ResourceFunc[int, user] {
	return func(id int) querykit.Resolver[user] {
		return func(context.Context, querykit.QueryFuncContext) (user, error) {
			calls.Add(1)
			return user{ID: id, Name: fmt.Sprintf("user-%d", id)}, nil
		}
	}
}

func TestSingleQueryEndToEnd(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, querycache.Options{StaleTime: time.Minute})
	var calls atomic.Int32
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)
	assert.Equal(t, querykit.Single, users.Type())

	u, err := users.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, user{ID: 7, Name: "user-7"}, u)

	// the entry lives at identity ++ args
	v, ok := c.GetQueryData(querykit.Key{"user", 7})
	require.True(t, ok)
	assert.Equal(t, u, v)
	assert.True(t, users.KeyFor(nil, 7).Equal(querykit.Key{"user", 7}))

	got, ok := users.GetQueryData(querykit.Key{7})
	require.True(t, ok)
	assert.Equal(t, u, got)

	st, ok := users.GetQueryState(querykit.Key{7})
	require.True(t, ok)
	assert.Equal(t, querykit.StatusSuccess, st.Status)
	assert.Equal(t, u, st.Data)

	_, err = users.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSetQueryDataThenGet(t *testing.T) {
	c := newClient(t, querycache.Options{})
	var calls atomic.Int32
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)

	out := users.SetQueryData(querykit.Key{7}, func(prev user, ok bool) user {
		assert.False(t, ok)
		return user{ID: 7, Name: "Ada"}
	})
	assert.Equal(t, "Ada", out.Name)

	got, ok := users.GetQueryData(querykit.Key{7})
	require.True(t, ok)
	assert.Equal(t, "Ada", got.Name)

	_, ok = users.GetQueryData(querykit.Key{8})
	assert.False(t, ok)

	// capability form accepts a plain value
	_, err = users.Call(context.Background(), querykit.CapSetQueryData, querykit.Key{8}, user{ID: 8, Name: "Bob"})
	require.NoError(t, err)
	v, err := users.Call(context.Background(), querykit.CapGetQueryData, querykit.Key{8})
	require.NoError(t, err)
	assert.Equal(t, user{ID: 8, Name: "Bob"}, v)
	assert.Zero(t, calls.Load())
}

func TestArgsKeying(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, querycache.Options{StaleTime: time.Minute})
	qc := newCreator(t, c)
	resource := func(ids []int) querykit.Resolver[int] {
		return func(context.Context, querykit.QueryFuncContext) (int, error) { return ids[0] * 100, nil }
	}

	inKey, err := querykit.Query(qc, querykit.Key{"in"}, resource, querykit.QueryToolkitOptions[int]{})
	require.NoError(t, err)
	a, err := inKey.FetchQuery(ctx, []int{1})
	require.NoError(t, err)
	b, err := inKey.FetchQuery(ctx, []int{2})
	require.NoError(t, err)
	assert.Equal(t, 100, a)
	assert.Equal(t, 200, b)
	assert.Len(t, inKey.GetQueriesData(querykit.QueryFilters{}), 2)

	outKey, err := querykit.Query(qc, querykit.Key{"out"}, resource, querykit.QueryToolkitOptions[int]{Args: querykit.ArgsOutOfKey})
	require.NoError(t, err)
	a, err = outKey.FetchQuery(ctx, []int{1})
	require.NoError(t, err)
	b, err = outKey.FetchQuery(ctx, []int{2})
	require.NoError(t, err)
	assert.Equal(t, 100, a)
	assert.Equal(t, 100, b, "calls share one fresh entry")
	assert.Len(t, outKey.GetQueriesData(querykit.QueryFilters{}), 1)
}

func TestExplicitKeySuffixPrecedesArgs(t *testing.T) {
	c := newClient(t, querycache.Options{})
	var calls atomic.Int32
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)

	_, err = users.FetchQuery(context.Background(), 3, querykit.QueryOptions{Key: querykit.Key{"detail"}})
	require.NoError(t, err)
	_, ok := c.GetQueryData(querykit.Key{"user", "detail", 3})
	assert.True(t, ok)
}

func TestModeGating(t *testing.T) {
	c := newClient(t, querycache.Options{})
	qc := newCreator(t, c)
	var calls atomic.Int32

	single, err := querykit.NewQuery(qc, querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)
	_, isSingle := single.(*querykit.SingleQuery[int, user])
	assert.True(t, isSingle)
	for _, name := range []string{querykit.CapFetchInfiniteQuery, querykit.CapPrefetchInfiniteQuery, querykit.CapUseInfiniteQuery} {
		_, err := single.Capability(name)
		assert.ErrorIs(t, err, querykit.ErrModeInactive, name)
	}

	paged, err := querykit.NewQuery(qc, querykit.Key{"feed"}, userResource(&calls), querykit.QueryToolkitOptions[user]{Type: querykit.Paginated})
	require.NoError(t, err)
	assert.Equal(t, querykit.Paginated, paged.Type())
	for _, name := range []string{querykit.CapFetchQuery, querykit.CapPrefetchQuery, querykit.CapUseQuery} {
		_, err := paged.Capability(name)
		assert.ErrorIs(t, err, querykit.ErrModeInactive, name)
	}
	_, err = paged.Capability(querykit.CapFetchInfiniteQuery)
	assert.NoError(t, err)

	_, err = querykit.Query(qc, querykit.Key{"x"}, userResource(&calls), querykit.QueryToolkitOptions[user]{Type: querykit.Paginated})
	assert.ErrorIs(t, err, querykit.ErrModeMismatch)
	_, err = querykit.Infinite(qc, querykit.Key{"x"}, userResource(&calls), querykit.QueryToolkitOptions[user]{Type: querykit.Single})
	assert.ErrorIs(t, err, querykit.ErrModeMismatch)
}

func TestUnknownCapability(t *testing.T) {
	c := newClient(t, querycache.Options{})
	var calls atomic.Int32
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)

	_, err = users.Capability("doesNotExist")
	require.ErrorIs(t, err, querykit.ErrUnknownCapability)
	var uce *querykit.UnknownCapabilityError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, "doesNotExist", uce.Name)

	_, err = users.Call(context.Background(), "doesNotExist")
	assert.ErrorIs(t, err, querykit.ErrUnknownCapability)
	assert.Contains(t, users.Capabilities(), querykit.CapRefetchQueries)
}

func TestForwardedCapabilityScopesKey(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, querycache.Options{})
	var calls atomic.Int32
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)

	for _, id := range []int{7, 8} {
		users.SetQueryData(querykit.Key{id}, func(user, bool) user { return user{ID: id} })
	}
	c.SetQueryData(querykit.Key{"other", 7}, func(any, bool) any { return "keep" })

	remove, err := users.Capability(querykit.CapRemoveQueries)
	require.NoError(t, err)
	_, err = remove(ctx, querykit.Key{7})
	require.NoError(t, err)

	_, ok := c.GetQueryData(querykit.Key{"user", 7})
	assert.False(t, ok)
	_, ok = c.GetQueryData(querykit.Key{"user", 8})
	assert.True(t, ok)

	// no key: the whole identity
	_, err = users.Call(ctx, querykit.CapRemoveQueries)
	require.NoError(t, err)
	_, ok = c.GetQueryData(querykit.Key{"user", 8})
	assert.False(t, ok)
	_, ok = c.GetQueryData(querykit.Key{"other", 7})
	assert.True(t, ok)
}

// partialClient hides some capabilities of a real client.
type partialClient struct {
	*querycache.Client
	hide []string
}

func (p partialClient) Capabilities() map[string]querykit.Capability {
	caps := p.Client.Capabilities()
	for _, name := range p.hide {
		delete(caps, name)
	}
	return caps
}

func TestMissingCapabilities(t *testing.T) {
	c := newClient(t, querycache.Options{})

	_, err := querykit.NewQueryCreator(partialClient{Client: c, hide: []string{querykit.CapResetQueries, querykit.CapIsFetching}}, querykit.CreatorOptions{})
	var mce *querykit.MissingCapabilityError
	require.ErrorAs(t, err, &mce)
	assert.ElementsMatch(t, []string{querykit.CapResetQueries, querykit.CapIsFetching}, mce.Names)

	_, err = querykit.NewQueryCreator(nil, querykit.CreatorOptions{})
	assert.ErrorIs(t, err, querykit.ErrNilClient)

	// per-toolkit requirements are checked too
	qc := newCreator(t, partialClient{Client: c, hide: []string{querykit.CapCancelQueries}})
	var calls atomic.Int32
	_, err = querykit.Query(qc, querykit.Key{"user"}, userResource(&calls), querykit.QueryToolkitOptions[user]{
		Require: []string{querykit.CapCancelQueries},
	})
	require.ErrorAs(t, err, &mce)
	assert.Equal(t, []string{querykit.CapCancelQueries}, mce.Names)
}

func TestUseQueryAndIsFetching(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newClient(t, querycache.Options{})
	release := make(chan struct{})
	slow := func(id int) querykit.Resolver[user] {
		return func(context.Context, querykit.QueryFuncContext) (user, error) {
			<-release
			return user{ID: id}, nil
		}
	}
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, slow, querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)

	counter := users.UseIsFetching(querykit.QueryFilters{})
	defer counter.Close()
	obs := users.UseQuery(ctx, 7)
	defer obs.Close()

	assert.Equal(t, 1, users.IsFetching(querykit.QueryFilters{}))
	assert.Equal(t, 1, users.IsFetching(querykit.QueryFilters{Key: querykit.Key{7}}))
	assert.Equal(t, 0, users.IsFetching(querykit.QueryFilters{Key: querykit.Key{8}}))
	assert.Equal(t, 1, counter.Value())

	close(release)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case r := <-obs.Updates():
			if r.Status == querykit.StatusSuccess {
				assert.Equal(t, 7, r.Data.ID)
				assert.Equal(t, 0, users.IsFetching(querykit.QueryFilters{}))
				return
			}
		case <-timeout:
			t.Fatal("no success result")
		}
	}
}

func TestResolverErrorsSurfaceUnchanged(t *testing.T) {
	c := newClient(t, querycache.Options{})
	boom := errors.New("boom")
	failing := func(int) querykit.Resolver[user] {
		return func(context.Context, querykit.QueryFuncContext) (user, error) { return user{}, boom }
	}
	users, err := querykit.Query(newCreator(t, c), querykit.Key{"user"}, failing, querykit.QueryToolkitOptions[user]{})
	require.NoError(t, err)

	_, err = users.FetchQuery(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, users.PrefetchQuery(context.Background(), 1))

	st, ok := users.GetQueryState(querykit.Key{1})
	require.True(t, ok)
	assert.Equal(t, querykit.StatusError, st.Status)
}

func TestInfiniteToolkit(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, querycache.Options{StaleTime: time.Minute})
	feed := func(topic string) querykit.Resolver[[]string] {
		return func(_ context.Context, qc querykit.QueryFuncContext) ([]string, error) {
			n := qc.PageParam.(int)
			return []string{fmt.Sprintf("%s-%d", topic, n)}, nil
		}
	}
	posts, err := querykit.Infinite(newCreator(t, c), querykit.Key{"posts"}, feed, querykit.QueryToolkitOptions[[]string]{
		InfiniteDefaults: querykit.InfiniteOptions{
			InitialPageParam: 0,
			GetNextPageParam: func(_ any, pages []any, last any) (any, bool) {
				return last.(int) + 1, len(pages) < 3
			},
		},
	})
	require.NoError(t, err)

	p, err := posts.FetchInfiniteQuery(ctx, "go", querykit.InfiniteOptions{Pages: 2})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"go-0"}, {"go-1"}}, p.Pages)
	assert.Equal(t, []any{0, 1}, p.PageParams)

	obs := posts.UseInfiniteQuery(ctx, "go")
	defer obs.Close()
	r, err := obs.FetchNextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"go-0"}, {"go-1"}, {"go-2"}}, r.Data.Pages)
	assert.False(t, r.HasNextPage)

	got, ok := posts.GetQueryData(querykit.Key{"go"})
	require.True(t, ok)
	assert.Len(t, got.Pages, 3)

	posts.SetQueryData(querykit.Key{"go"}, func(prev querykit.Pages[[]string], _ bool) querykit.Pages[[]string] {
		prev.Pages = prev.Pages[:1]
		prev.PageParams = prev.PageParams[:1]
		return prev
	})
	got, _ = posts.GetQueryData(querykit.Key{"go"})
	assert.Equal(t, [][]string{{"go-0"}}, got.Pages)
}

func newPersister(t *testing.T) *persist.Store[user] {
	t.Helper()
	p, err := bigcache.New(context.Background(), bigcache.Config{Shards: 16, MaxEntriesInWindow: 128})
	require.NoError(t, err)
	s, err := persist.New(persist.Options[user]{
		Namespace: "test:users",
		Provider:  p,
		Codec:     codec.MustCBOR[user](true),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestPersisterReadThrough(t *testing.T) {
	ctx := context.Background()
	store := newPersister(t)
	var calls atomic.Int32
	opts := querykit.QueryToolkitOptions[user]{Persister: store}

	first, err := querykit.Query(newCreator(t, newClient(t, querycache.Options{})), querykit.Key{"user"}, userResource(&calls), opts)
	require.NoError(t, err)
	_, err = first.FetchQuery(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	// a fresh client, as after a restart, is served from the store
	second, err := querykit.Query(newCreator(t, newClient(t, querycache.Options{})), querykit.Key{"user"}, userResource(&calls), opts)
	require.NoError(t, err)
	u, err := second.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "user-7", u.Name)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, second.InvalidateQueries(ctx, querykit.QueryFilters{Key: querykit.Key{7}}))
	_, err = second.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "invalidation reaches the persisted copy")

	// direct writes are persisted too
	second.SetQueryData(querykit.Key{9}, func(user, bool) user { return user{ID: 9, Name: "written"} })
	third, err := querykit.Query(newCreator(t, newClient(t, querycache.Options{})), querykit.Key{"user"}, userResource(&calls), opts)
	require.NoError(t, err)
	u, err = third.FetchQuery(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "written", u.Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPersisterServesOnlyColdEntries(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	users, err := querykit.Query(newCreator(t, newClient(t, querycache.Options{})), querykit.Key{"user"}, userResource(&calls),
		querykit.QueryToolkitOptions[user]{Persister: newPersister(t)})
	require.NoError(t, err)

	_, err = users.FetchQuery(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, users.RefetchQueries(ctx, querykit.QueryFilters{}))
	_, err = users.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "refetches of a loaded entry reach the resolver")

	// reset drops the persisted copy, so the cold fetch resolves again
	require.NoError(t, users.ResetQueries(ctx, querykit.QueryFilters{}))
	_, err = users.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())

	// removal keeps it: the next cold fetch is served from the store
	users.RemoveQueries(querykit.QueryFilters{})
	_, err = users.FetchQuery(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}
