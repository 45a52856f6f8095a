// Package docstore implements the document backend: the same provider
// surface as the api backend, served directly from PostgreSQL. Documents are
// jsonb rows, sessions are minted locally against the configured secret, and
// the realtime channel rides LISTEN/NOTIFY.
package docstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/token"
	"github.com/pkg/errors"
)

// Backend is the document-kind backend.
type Backend struct {
	cfg       backend.Config
	pool      *pgxpool.Pool
	store     *token.Store
	refresher *token.Refresher

	auth     *Auth
	database *Database
	storage  *Storage
	listener *Listener
}

var _ backend.Backend = (*Backend)(nil)

type options struct {
	nowFunc func() time.Time
	sender  challengeSender
}

// Option adjusts construction beyond what Config carries.
type Option func(*options)

// WithNowFunc overrides the clock used for token lifetimes and challenge
// expiry.
func WithNowFunc(fn func() time.Time) Option {
	return func(o *options) { o.nowFunc = fn }
}

// WithChallengeSender installs the function that delivers one-time codes to
// phones. Without it codes are only written to paros_challenges, for
// deployments where delivery is handled by infrastructure watching that
// table.
func WithChallengeSender(fn func(ctx context.Context, phone, code string) error) Option {
	return func(o *options) { o.sender = fn }
}

// New builds the document backend from cfg. The pool connects lazily, so a
// wrong DSN surfaces on first use rather than here. Every database and
// storage operation runs behind the auth guard, which refreshes an expired
// access token before the operation proceeds, matching the api backend's 401
// handling.
func New(ctx context.Context, cfg backend.Config, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "docstore.New")
	}
	if cfg.Kind != backend.KindDocument {
		return nil, errors.Errorf("docstore.New: config is for the %q backend", cfg.Kind)
	}
	cfg = cfg.WithDefaults()
	logger := cfg.LoggerOrNop()

	o := options{
		nowFunc: time.Now,
		sender:  func(context.Context, string, string) error { return nil },
	}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := pgxpool.New(ctx, cfg.DocumentDSN)
	if err != nil {
		return nil, errors.Wrap(err, "docstore.New pool")
	}

	store := token.NewStore()
	auth := &Auth{
		pool:       pool,
		secret:     []byte(cfg.DocumentTokenSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		store:      store,
		sender:     o.sender,
		nowFunc:    o.nowFunc,
		logger:     logger,
	}
	refresher := token.NewRefresher(store, auth.exchangeRefreshToken,
		token.WithTimeout(cfg.RefreshTimeout),
		token.WithLogger(logger),
	)
	auth.refresher = refresher
	refresher.OnSessionExpired(auth.sessionExpired)

	return &Backend{
		cfg:       cfg,
		pool:      pool,
		store:     store,
		refresher: refresher,
		auth:      auth,
		database:  newDatabase(pool, auth.ensureFreshSession),
		storage:   newStorage(pool, auth.ensureFreshSession),
		listener:  newListener(pool, auth.ensureFreshSession, auth.currentUser, logger, cfg.ConnectTimeout, cfg.SendTimeout),
	}, nil
}

func (b *Backend) Kind() backend.Kind         { return backend.KindDocument }
func (b *Backend) Auth() backend.AuthProvider { return b.auth }
func (b *Backend) Database() backend.Database { return b.database }
func (b *Backend) Storage() backend.Storage   { return b.storage }
func (b *Backend) Realtime() backend.Realtime { return b.listener }

// Close releases the listener connection and the pool. Safe to call with
// operations in flight; they fail with pool-closed errors rather than hang.
func (b *Backend) Close(ctx context.Context) error {
	b.listener.Disconnect()
	b.pool.Close()
	return nil
}
