package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tetrio-api/pkg/cache"
	"tetrio-api/pkg/models"
)

// fakeAPI is an Executor answering from a canned function and recording calls
type fakeAPI struct {
	mu       sync.Mutex
	requests []*http.Request
	respond  func(req *http.Request) ([]byte, error)
}

func (f *fakeAPI) Execute(ctx context.Context, req *http.Request) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func successBody(ttl time.Duration, username string) []byte {
	now := time.Now()
	return []byte(fmt.Sprintf(`{
		"success": true,
		"cache": {"status": "miss", "cached_at": %d, "cached_until": %d},
		"data": {"user": {"_id": "5e32fc85ab319c2ab1beb07c", "username": %q, "role": "user"}}
	}`, now.UnixMilli(), now.Add(ttl).UnixMilli(), username))
}

func staticAPI(body []byte) *fakeAPI {
	return &fakeAPI{respond: func(*http.Request) ([]byte, error) { return body, nil }}
}

func newTestClient(t *testing.T, api Executor, backend cache.Backend) *Client {
	t.Helper()
	c, err := New(Options{
		Executor: api,
		Backend:  backend,
		Interval: time.Millisecond,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

// backends returns one fresh instance of every cache implementation
func backends(t *testing.T) map[string]cache.Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, nil, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = rc.Close() })

	return map[string]cache.Backend{
		"noop":   cache.NewNoopCache(),
		"memory": cache.NewMemoryCache(nil, zaptest.NewLogger(t)),
		"redis":  rc,
	}
}

func TestFetch_SecondCallIsCacheHit(t *testing.T) {
	api := staticAPI(successBody(300*time.Second, "alice"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))
	ctx := context.Background()

	first, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)
	second, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)

	assert.Equal(t, 1, api.calls())
	assert.Equal(t, int64(1), c.Dispatcher().Calls())
	assert.Equal(t, "alice", first.Data.User.Username)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, first.Cache, second.Cache)
	assert.Equal(t, "https://ch.tetr.io/api/users/alice", api.requests[0].URL.String())
	assert.Equal(t, http.MethodGet, api.requests[0].Method)
}

func TestFetch_HitsWorkOnEveryCachingBackend(t *testing.T) {
	for name, backend := range backends(t) {
		if name == "noop" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			api := staticAPI(successBody(time.Minute, "alice"))
			c := newTestClient(t, api, backend)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				env, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
				require.NoError(t, err)
				assert.Equal(t, "alice", env.Data.User.Username)
			}
			assert.Equal(t, 1, api.calls())
		})
	}
}

func TestFetch_NoopAlwaysDispatches(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	c := newTestClient(t, api, cache.NewNoopCache())

	for i := 0; i < 3; i++ {
		_, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, api.calls())
}

func TestFetch_FailuresAreNeverCached(t *testing.T) {
	body := []byte(`{"success": false, "cache": {"status": "miss", "cached_at": 1, "cached_until": 99999999999999}, "error": {"msg": "No such user!"}}`)

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			api := staticAPI(body)
			c := newTestClient(t, api, backend)
			ctx := context.Background()

			env, err := Fetch[testUserInfo](ctx, c, "users/nobody", "")
			require.NoError(t, err)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)

			peeked, err := Peek[testUserInfo](ctx, c, "users/nobody", "")
			require.NoError(t, err)
			assert.Nil(t, peeked)

			_, err = Fetch[testUserInfo](ctx, c, "users/nobody", "")
			require.NoError(t, err)
			assert.Equal(t, 2, api.calls())
		})
	}
}

func TestFetch_SuccessWithoutCacheMetadataIsNotCached(t *testing.T) {
	body := []byte(`{"success": true, "data": {"user": {"_id": "1", "username": "alice"}}}`)

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			api := staticAPI(body)
			c := newTestClient(t, api, backend)
			ctx := context.Background()

			env, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
			require.NoError(t, err)
			assert.True(t, env.Success)

			peeked, err := Peek[testUserInfo](ctx, c, "users/alice", "")
			require.NoError(t, err)
			assert.Nil(t, peeked)
		})
	}
}

func TestFetch_SuccessWithoutDataIsReturned(t *testing.T) {
	now := time.Now()
	body := []byte(fmt.Sprintf(`{"success": true, "cache": {"status": "miss", "cached_at": %d, "cached_until": %d}, "data": null}`,
		now.UnixMilli(), now.Add(time.Minute).UnixMilli()))

	api := staticAPI(body)
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))

	env, err := Fetch[testUserInfo](context.Background(), c, "users/search/discord:0", "")
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Nil(t, env.Data)
	assert.NotNil(t, env.Cache)
}

func TestFetch_ExpiredEntryIsRefetched(t *testing.T) {
	api := staticAPI(successBody(50*time.Millisecond, "alice"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))
	ctx := context.Background()

	_, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls())
}

func TestFetch_SessionsAreCachedSeparately(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))
	ctx := context.Background()

	_, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)
	_, err = Fetch[testUserInfo](ctx, c, "users/alice", "session-a")
	require.NoError(t, err)
	_, err = Fetch[testUserInfo](ctx, c, "users/alice", "session-a")
	require.NoError(t, err)

	require.Equal(t, 2, api.calls())
	assert.Empty(t, api.requests[0].Header.Get(SessionHeader))
	assert.Equal(t, "session-a", api.requests[1].Header.Get(SessionHeader))
}

func TestFetch_InvalidSessionFailsBeforeDispatch(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))

	_, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "bad\r\ntoken")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindHeaderEncoding))
	assert.Equal(t, 0, api.calls())
}

func TestFetch_InvalidSessionNeverServedFromCache(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))
	ctx := context.Background()

	_, err := Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)

	env, err := Fetch[testUserInfo](ctx, c, "users/alice", "\x00")
	assert.Nil(t, env)
	assert.True(t, IsKind(err, KindHeaderEncoding))

	env, err = Peek[testUserInfo](ctx, c, "users/alice", "\x00")
	assert.Nil(t, env)
	assert.True(t, IsKind(err, KindHeaderEncoding))

	env, err = Prime[testUserInfo](ctx, c, "users/alice", "\x00", successBody(time.Minute, "mallory"))
	assert.Nil(t, env)
	assert.True(t, IsKind(err, KindHeaderEncoding))

	assert.Equal(t, 1, api.calls())
}

func TestFetch_TransportError(t *testing.T) {
	boom := errors.New("dial tcp: lookup ch.tetr.io: no such host")
	api := &fakeAPI{respond: func(*http.Request) ([]byte, error) { return nil, boom }}
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))

	_, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTransport))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, api.calls())
}

func TestFetch_ParseErrorReportsPath(t *testing.T) {
	api := staticAPI([]byte(`{"success": true, "data": {"user": {"_id": "1"}}}`))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))

	_, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindBodyParsing, perr.Kind)
	assert.Equal(t, "users/alice", perr.Route)
	assert.Equal(t, "data.user.username", perr.Path)
}

// stubBackend fails on demand and counts operations
type stubBackend struct {
	mu        sync.Mutex
	lookupErr error
	storeErr  error
	stores    int
}

func (s *stubBackend) Lookup(context.Context, string) (cache.Item, error) {
	return nil, s.lookupErr
}

func (s *stubBackend) Store(context.Context, string, cache.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores++
	return s.storeErr
}

func TestFetch_BackendLookupErrorFailsClosed(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	backend := &stubBackend{lookupErr: errors.New("READONLY You can't write against a read only replica")}
	c := newTestClient(t, api, backend)

	_, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBackend))
	assert.Equal(t, 0, api.calls())
}

func TestFetch_CacheConversionErrorFailsClosed(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	backend := &stubBackend{lookupErr: fmt.Errorf("%w: bad payload", cache.ErrConversion)}
	c := newTestClient(t, api, backend)

	_, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")
	assert.True(t, IsKind(err, KindCacheConversion))
	assert.Equal(t, 0, api.calls())
}

func TestFetch_StoreFailureIsNotFatal(t *testing.T) {
	for _, storeErr := range []error{
		errors.New("connection refused"),
		fmt.Errorf("%w: unsupported value", cache.ErrConversion),
	} {
		api := staticAPI(successBody(time.Minute, "alice"))
		backend := &stubBackend{storeErr: storeErr}
		c := newTestClient(t, api, backend)

		env, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")
		require.NoError(t, err)
		assert.Equal(t, "alice", env.Data.User.Username)
		assert.Equal(t, 1, backend.stores)
	}
}

func TestFetch_ConcurrentMissesAreSpaced(t *testing.T) {
	const interval = 30 * time.Millisecond
	const callers = 4

	var mu sync.Mutex
	var starts []time.Time
	api := &fakeAPI{respond: func(req *http.Request) ([]byte, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return successBody(time.Minute, "alice"), nil
	}}

	c, err := New(Options{
		Executor: api,
		Backend:  cache.NewMemoryCache(nil, zaptest.NewLogger(t)),
		Interval: interval,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Fetch[testUserInfo](context.Background(), c, fmt.Sprintf("users/user%d", i), "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, starts, callers)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), interval)
	}
}

func TestFetch_CoalescesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{respond: func(*http.Request) ([]byte, error) {
		<-release
		return successBody(time.Minute, "alice"), nil
	}}

	c, err := New(Options{
		Executor: api,
		Backend:  cache.NewNoopCache(),
		Interval: time.Millisecond,
		Coalesce: true,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	const callers = 5
	results := make(chan *models.Envelope[testUserInfo], callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := Fetch[testUserInfo](context.Background(), c, "users/alice", "")
			assert.NoError(t, err)
			results <- env
		}()
	}

	require.Eventually(t, func() bool { return api.calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, 1, api.calls())
	for env := range results {
		assert.Equal(t, "alice", env.Data.User.Username)
	}
}

func TestPrime(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "bob"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))
	ctx := context.Background()

	env, err := Prime[testUserInfo](ctx, c, "users/alice", "", successBody(time.Minute, "alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", env.Data.User.Username)

	// The primed entry is served without a request
	env, err = Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", env.Data.User.Username)
	assert.Equal(t, 0, api.calls())

	// A live entry wins over a new body
	env, err = Prime[testUserInfo](ctx, c, "users/alice", "", successBody(time.Minute, "carol"))
	require.NoError(t, err)
	assert.Equal(t, "alice", env.Data.User.Username)

	_, err = Prime[testUserInfo](ctx, c, "users/dave", "", []byte(`{"success": true, "data": {"user": {}}}`))
	assert.True(t, IsKind(err, KindBodyParsing))
}

func TestPeek(t *testing.T) {
	api := staticAPI(successBody(time.Minute, "alice"))
	c := newTestClient(t, api, cache.NewMemoryCache(nil, zaptest.NewLogger(t)))
	ctx := context.Background()

	env, err := Peek[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)
	assert.Nil(t, env)

	_, err = Fetch[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)

	env, err = Peek[testUserInfo](ctx, c, "users/alice", "")
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "alice", env.Data.User.Username)
	assert.Equal(t, 1, api.calls())
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost:8080/api"})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/users/alice", c.URL("users/alice"))
	assert.Equal(t, "http://localhost:8080/api/users/alice", c.URL("/users/alice"))
	assert.IsType(t, &cache.NoopCache{}, c.Backend())
	assert.NotNil(t, c.Dispatcher())
}
