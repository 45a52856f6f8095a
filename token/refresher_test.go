package token_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parosapp/paros-go/token"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	oldAccess  = "old-access"
	oldRefresh = "old-refresh"
	newAccess  = "new-access"
	newRefresh = "new-refresh"
)

func authenticatedStore() *token.Store {
	store := token.NewStore()
	store.Set(token.Pair{Access: oldAccess, Refresh: oldRefresh})
	return store
}

func TestRefreshCollapsesConcurrentCallers(t *testing.T) {
	store := authenticatedStore()

	var calls int64
	exchange := func(ctx context.Context, refreshToken string) (token.Pair, error) {
		atomic.AddInt64(&calls, 1)
		require.Equal(t, oldRefresh, refreshToken)
		time.Sleep(50 * time.Millisecond) // hold the flight open for all callers
		return token.Pair{Access: newAccess, Refresh: newRefresh}, nil
	}

	refresher := token.NewRefresher(store, exchange)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]token.Pair, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = refresher.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, newAccess, results[i].Access)
		require.Equal(t, newRefresh, results[i].Refresh)
	}
	require.Equal(t, newAccess, store.Access())
}

func TestRefreshWithoutSession(t *testing.T) {
	store := token.NewStore()

	var calls int64
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		atomic.AddInt64(&calls, 1)
		return token.Pair{}, nil
	})

	_, err := refresher.Refresh(context.Background())
	require.ErrorIs(t, err, token.ErrNoSession)
	require.EqualValues(t, 0, atomic.LoadInt64(&calls))
}

func TestRefreshInvalidClearsStoreAndNotifies(t *testing.T) {
	store := authenticatedStore()

	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		return token.Pair{}, errors.Wrap(token.ErrRefreshInvalid, "backend rejected token")
	})

	var expired int64
	refresher.OnSessionExpired(func() {
		atomic.AddInt64(&expired, 1)
	})

	_, err := refresher.Refresh(context.Background())
	require.ErrorIs(t, err, token.ErrRefreshInvalid)
	require.True(t, store.Pair().Zero(), "terminal refresh failure must clear the store")
	require.EqualValues(t, 1, atomic.LoadInt64(&expired))
}

func TestRefreshTransientFailureKeepsStore(t *testing.T) {
	store := authenticatedStore()

	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		return token.Pair{}, errors.New("connection reset")
	})

	var expired int64
	refresher.OnSessionExpired(func() {
		atomic.AddInt64(&expired, 1)
	})

	_, err := refresher.Refresh(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, token.ErrRefreshInvalid)
	require.Equal(t, oldRefresh, store.Refresh(), "transient failure must not clear the store")
	require.EqualValues(t, 0, atomic.LoadInt64(&expired))
}

func TestRefreshPartialPairRejected(t *testing.T) {
	store := authenticatedStore()

	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		return token.Pair{Access: newAccess}, nil
	})

	_, err := refresher.Refresh(context.Background())
	require.Error(t, err)
	require.Equal(t, oldAccess, store.Access(), "a partial pair must never be stored")
}

func TestRefreshAbandonedCallerDoesNotCancelExchange(t *testing.T) {
	store := authenticatedStore()

	release := make(chan struct{})
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		<-release
		return token.Pair{Access: newAccess, Refresh: newRefresh}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := refresher.Refresh(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, oldAccess, store.Access(), "exchange still in flight")

	close(release)
	require.Eventually(t, func() bool {
		return store.Access() == newAccess
	}, time.Second, 5*time.Millisecond, "abandoned exchange must still complete and store the new pair")
}

func TestRefreshRotatesOnEachCompletedExchange(t *testing.T) {
	store := authenticatedStore()

	var calls int64
	refresher := token.NewRefresher(store, func(ctx context.Context, refreshToken string) (token.Pair, error) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			require.Equal(t, oldRefresh, refreshToken)
			return token.Pair{Access: "access-2", Refresh: "refresh-2"}, nil
		}
		require.Equal(t, "refresh-2", refreshToken)
		return token.Pair{Access: "access-3", Refresh: "refresh-3"}, nil
	})

	_, err := refresher.Refresh(context.Background())
	require.NoError(t, err)
	pair, err := refresher.Refresh(context.Background())
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt64(&calls))
	require.Equal(t, "access-3", pair.Access)
	require.Equal(t, "refresh-3", store.Refresh())
}
