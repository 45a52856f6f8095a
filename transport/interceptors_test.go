package transport_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/token"
	"github.com/parosapp/paros-go/transport"
	"github.com/stretchr/testify/require"
)

const (
	staleAccess   = "stale-access"
	staleRefresh  = "stale-refresh"
	freshAccess   = "fresh-access"
	freshRefresh  = "fresh-refresh"
	fixedResponse = `{"ok":true}`
)

func sessionStore() *token.Store {
	store := token.NewStore()
	store.Set(token.Pair{Access: staleAccess, Refresh: staleRefresh})
	return store
}

func respond(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(fixedResponse)),
		Header:     make(http.Header),
	}
}

// authedBase returns 200 only when the request carries wantToken.
func authedBase(calls *int64, wantToken string) transport.Doer {
	return func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(calls, 1)
		if req.Header.Get("Authorization") == "Bearer "+wantToken {
			return respond(http.StatusOK), nil
		}
		return respond(http.StatusUnauthorized), nil
	}
}

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://paros.test/posts", nil)
	require.NoError(t, err)
	return req
}

func TestAttachTokenSetsHeaderFromStore(t *testing.T) {
	store := sessionStore()

	var seen string
	base := func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Get("Authorization")
		return respond(http.StatusOK), nil
	}

	do := transport.Chain(base, transport.AttachToken(store))
	_, err := do(newRequest(t))
	require.NoError(t, err)
	require.Equal(t, "Bearer "+staleAccess, seen)
}

func TestAttachTokenSkipsHeaderWhenUnauthenticated(t *testing.T) {
	store := token.NewStore()

	var seen string
	base := func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Get("Authorization")
		return respond(http.StatusOK), nil
	}

	do := transport.Chain(base, transport.AttachToken(store))
	_, err := do(newRequest(t))
	require.NoError(t, err)
	require.Empty(t, seen)
}

func TestRetryRefreshesOnceAndReplays(t *testing.T) {
	store := sessionStore()

	var refreshCalls int64
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		atomic.AddInt64(&refreshCalls, 1)
		require.Equal(t, staleRefresh, refreshToken)
		return token.Pair{Access: freshAccess, Refresh: freshRefresh}, nil
	})

	var upstreamCalls int64
	do := transport.Chain(authedBase(&upstreamCalls, freshAccess),
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)

	resp, err := do(newRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, atomic.LoadInt64(&refreshCalls))
	require.EqualValues(t, 2, atomic.LoadInt64(&upstreamCalls), "original attempt plus one replay")
	require.Equal(t, freshAccess, store.Access())
}

func TestConcurrentAuthFailuresShareOneRefresh(t *testing.T) {
	store := sessionStore()

	var refreshCalls int64
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		atomic.AddInt64(&refreshCalls, 1)
		time.Sleep(30 * time.Millisecond) // keep the exchange open for every caller
		return token.Pair{Access: freshAccess, Refresh: freshRefresh}, nil
	})

	var upstreamCalls int64
	do := transport.Chain(authedBase(&upstreamCalls, freshAccess),
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)

	const callers = 6
	var wg sync.WaitGroup
	statuses := make([]int, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := do(newRequest(t))
			errs[n] = err
			if err == nil {
				statuses[n] = resp.StatusCode
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&refreshCalls), "all callers must share one refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, statuses[i])
	}
}

func TestAuthFailureWithoutRefreshTokenFailsFast(t *testing.T) {
	store := token.NewStore()
	store.Set(token.Pair{Access: staleAccess}) // refresh half missing

	var refreshCalls int64
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		atomic.AddInt64(&refreshCalls, 1)
		return token.Pair{}, nil
	})

	var upstreamCalls int64
	do := transport.Chain(authedBase(&upstreamCalls, freshAccess),
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)

	_, err := do(newRequest(t))
	require.ErrorIs(t, err, backend.ErrSessionExpired)
	require.EqualValues(t, 0, atomic.LoadInt64(&refreshCalls), "no refresh attempt without a refresh token")
	require.EqualValues(t, 1, atomic.LoadInt64(&upstreamCalls), "no replay without a refresh token")
}

func TestTerminalRefreshFailureMapsToSessionExpired(t *testing.T) {
	store := sessionStore()

	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		return token.Pair{}, token.ErrRefreshInvalid
	})

	var upstreamCalls int64
	do := transport.Chain(authedBase(&upstreamCalls, freshAccess),
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)

	_, err := do(newRequest(t))
	require.ErrorIs(t, err, backend.ErrSessionExpired)
	require.True(t, store.Pair().Zero(), "terminal refresh failure clears the store")
	require.EqualValues(t, 1, atomic.LoadInt64(&upstreamCalls))
}

func TestSecondAuthFailureSurfacesUnchanged(t *testing.T) {
	store := sessionStore()

	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		return token.Pair{Access: freshAccess, Refresh: freshRefresh}, nil
	})

	var upstreamCalls int64
	base := func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(&upstreamCalls, 1)
		return respond(http.StatusUnauthorized), nil
	}

	do := transport.Chain(base,
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)

	resp, err := do(newRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 2, atomic.LoadInt64(&upstreamCalls), "exactly one replay, never a loop")
}

func TestRetryReplaysRequestBody(t *testing.T) {
	store := sessionStore()

	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		return token.Pair{Access: freshAccess, Refresh: freshRefresh}, nil
	})

	var bodies []string
	var mu sync.Mutex
	base := func(req *http.Request) (*http.Response, error) {
		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		mu.Lock()
		bodies = append(bodies, string(raw))
		mu.Unlock()
		if req.Header.Get("Authorization") == "Bearer "+freshAccess {
			return respond(http.StatusOK), nil
		}
		return respond(http.StatusUnauthorized), nil
	}

	client := transport.New("http://paros.test")
	req, err := client.NewRequest(context.Background(), http.MethodPost, "/posts", map[string]any{"title": "flat in baner"})
	require.NoError(t, err)

	resp, err := transport.Chain(base,
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, bodies, 2)
	require.Equal(t, bodies[0], bodies[1], "replayed attempt must carry the identical body")
	require.Contains(t, bodies[0], "flat in baner")
}

func TestRetrySkipsRefreshWhenPairAlreadyRotated(t *testing.T) {
	store := sessionStore()

	var refreshCalls int64
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		atomic.AddInt64(&refreshCalls, 1)
		return token.Pair{Access: freshAccess, Refresh: freshRefresh}, nil
	})

	var upstreamCalls int64
	base := func(req *http.Request) (*http.Response, error) {
		atomic.AddInt64(&upstreamCalls, 1)
		if req.Header.Get("Authorization") == "Bearer "+freshAccess {
			return respond(http.StatusOK), nil
		}
		// Another caller finished rotating while this request was in flight.
		store.Set(token.Pair{Access: freshAccess, Refresh: freshRefresh})
		return respond(http.StatusUnauthorized), nil
	}

	do := transport.Chain(base,
		transport.RetryOnAuthFailure(refresher, store),
		transport.AttachToken(store),
	)

	resp, err := do(newRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, atomic.LoadInt64(&refreshCalls), "rotation already done, no second exchange")
	require.EqualValues(t, 2, atomic.LoadInt64(&upstreamCalls))
}
