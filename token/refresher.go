package token

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const refreshGroupKey = "refresh"

// RefreshFunc exchanges a refresh token for a new pair against a backend. It
// must return ErrRefreshInvalid (possibly wrapped) when the backend reports
// the token revoked or expired, so the Refresher can tell a dead session
// apart from a transient failure.
type RefreshFunc func(ctx context.Context, refreshToken string) (Pair, error)

// Refresher serializes token refreshes. However many callers hit an expired
// access token at once, exactly one exchange goes upstream; every caller
// observes that one outcome. A caller whose context ends merely stops
// waiting, the shared exchange runs to completion for the rest.
type Refresher struct {
	store    *Store
	exchange RefreshFunc
	timeout  time.Duration
	logger   zerolog.Logger
	group    singleflight.Group

	mu        sync.Mutex
	onExpired func()
}

// RefresherOption modifies a Refresher at construction.
type RefresherOption func(*Refresher)

// WithTimeout bounds the upstream exchange. The bound is independent of the
// callers' contexts since the exchange outlives any one of them.
func WithTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.timeout = d
	}
}

// WithLogger sets the refresher's logger.
func WithLogger(logger zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

func NewRefresher(store *Store, exchange RefreshFunc, options ...RefresherOption) *Refresher {
	r := &Refresher{
		store:    store,
		exchange: exchange,
		timeout:  15 * time.Second,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Refresh returns the pair produced by the current in-flight exchange,
// starting one if none is running. ErrNoSession is returned without any
// upstream call when the store holds no refresh token. On ErrRefreshInvalid
// the store has already been cleared and the expiry listener notified by the
// time Refresh returns.
func (r *Refresher) Refresh(ctx context.Context) (Pair, error) {
	if r.store.Refresh() == "" {
		return Pair{}, ErrNoSession
	}

	ch := r.group.DoChan(refreshGroupKey, r.doExchange)

	select {
	case res := <-ch:
		if res.Err != nil {
			return Pair{}, res.Err
		}
		return res.Val.(Pair), nil
	case <-ctx.Done():
		// The shared exchange keeps running for the other waiters.
		return Pair{}, errors.Wrap(ctx.Err(), "Refresher.Refresh")
	}
}

// OnSessionExpired registers the single listener invoked after a terminal
// refresh failure has cleared the store.
func (r *Refresher) OnSessionExpired(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpired = fn
}

func (r *Refresher) doExchange() (interface{}, error) {
	refresh := r.store.Refresh()
	if refresh == "" {
		return nil, ErrNoSession
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.logger.Debug().Msg("refreshing token pair")
	pair, err := r.exchange(ctx, refresh)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			r.logger.Warn().Msg("refresh token rejected, session terminated")
			r.store.Clear()
			r.notifyExpired()
		}
		return nil, errors.Wrap(err, "Refresher.doExchange")
	}

	if pair.Access == "" || pair.Refresh == "" {
		return nil, errors.New("Refresher.doExchange exchange returned a partial pair")
	}

	r.store.Set(pair)
	return pair, nil
}

func (r *Refresher) notifyExpired() {
	r.mu.Lock()
	fn := r.onExpired
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}
