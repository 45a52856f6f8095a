package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/parosapp/paros-go/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	challengeTTL         = 5 * time.Minute
	maxChallengeAttempts = 5
)

// challengeSender delivers a one-time code to a phone number. The backend
// stores the challenge regardless; delivery is the sender's problem.
type challengeSender func(ctx context.Context, phone, code string) error

// Auth drives the session lifecycle against the paros_users, paros_challenges
// and paros_refresh_tokens tables. Access tokens are minted locally with the
// configured secret; refresh tokens are opaque rows that rotate on use.
type Auth struct {
	pool       *pgxpool.Pool
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      *token.Store
	refresher  *token.Refresher
	sender     challengeSender
	nowFunc    func() time.Time
	logger     zerolog.Logger

	mu   sync.RWMutex
	user backend.User

	expiredMu sync.Mutex
	onExpired func()
}

var _ backend.AuthProvider = (*Auth)(nil)

const upsertChallengeSQL = `
INSERT INTO paros_challenges (phone, code_hash, attempts, expires_at, created_at)
VALUES ($1, $2, 0, $3, $4)
ON CONFLICT (phone) DO UPDATE
SET code_hash = EXCLUDED.code_hash, attempts = 0,
    expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`

const selectChallengeSQL = `
SELECT code_hash, attempts, expires_at FROM paros_challenges WHERE phone = $1`

const bumpChallengeAttemptsSQL = `
UPDATE paros_challenges SET attempts = attempts + 1 WHERE phone = $1`

const deleteChallengeSQL = `DELETE FROM paros_challenges WHERE phone = $1`

const upsertUserSQL = `
INSERT INTO paros_users (id, phone, display_name, created_at)
VALUES ($1, $2, '', $3)
ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
RETURNING id, phone, display_name`

const insertRefreshTokenSQL = `
INSERT INTO paros_refresh_tokens (token, user_id, expires_at, created_at)
VALUES ($1, $2, $3, $4)`

const selectRefreshTokenSQL = `
SELECT user_id, expires_at FROM paros_refresh_tokens WHERE token = $1 FOR UPDATE`

const deleteRefreshTokenSQL = `DELETE FROM paros_refresh_tokens WHERE token = $1`

// RequestChallenge stores a hashed one-time code for phone and hands the
// plaintext to the challenge sender. Only the hash ever reaches the table.
// This backend is its own server, so the non-empty phone rule is enforced
// here rather than delegated.
func (a *Auth) RequestChallenge(ctx context.Context, phone string) error {
	ctx, span := telemetry.StartSpan(ctx, "auth.request_challenge")
	defer span.End()

	if phone == "" {
		return errors.Wrap(backend.ErrChallengeDelivery, "Auth.RequestChallenge phone is required")
	}

	code, err := generateChallengeCode()
	if err != nil {
		return errors.Wrap(err, "Auth.RequestChallenge")
	}
	hash, err := hashChallengeCode(code)
	if err != nil {
		return errors.Wrap(err, "Auth.RequestChallenge")
	}

	now := a.nowFunc()
	if _, err := a.pool.Exec(ctx, upsertChallengeSQL, phone, hash, now.Add(challengeTTL), now); err != nil {
		return errors.Wrap(err, "Auth.RequestChallenge upsert")
	}

	if err := a.sender(ctx, phone, code); err != nil {
		return errors.Wrap(backend.ErrChallengeDelivery, err.Error())
	}
	return nil
}

// VerifyChallenge checks the code against the stored hash. Each miss burns an
// attempt; after maxChallengeAttempts the challenge is gone and the caller
// has to request a new one. Success consumes the challenge and establishes a
// session.
func (a *Auth) VerifyChallenge(ctx context.Context, phone, code string) (backend.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "auth.verify_challenge")
	defer span.End()

	now := a.nowFunc()

	var hash string
	var attempts int
	var expires time.Time
	err := a.pool.QueryRow(ctx, selectChallengeSQL, phone).Scan(&hash, &attempts, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return backend.Session{}, errors.Wrap(backend.ErrChallengeNotFound, "Auth.VerifyChallenge")
	}
	if err != nil {
		return backend.Session{}, errors.Wrap(err, "Auth.VerifyChallenge select")
	}

	if now.After(expires) || attempts >= maxChallengeAttempts {
		_, _ = a.pool.Exec(ctx, deleteChallengeSQL, phone)
		return backend.Session{}, errors.Wrap(backend.ErrChallengeNotFound, "challenge expired")
	}
	if !compareChallengeCode(hash, code) {
		_, _ = a.pool.Exec(ctx, bumpChallengeAttemptsSQL, phone)
		return backend.Session{}, errors.Wrap(backend.ErrInvalidCode, "Auth.VerifyChallenge")
	}
	_, _ = a.pool.Exec(ctx, deleteChallengeSQL, phone)

	user, err := a.upsertUser(ctx, phone)
	if err != nil {
		return backend.Session{}, errors.Wrap(err, "Auth.VerifyChallenge")
	}
	pair, err := a.mintPair(ctx, user.ID, now)
	if err != nil {
		return backend.Session{}, errors.Wrap(err, "Auth.VerifyChallenge")
	}

	session := backend.Session{Tokens: pair, User: user}
	a.SetSession(session)
	a.logger.Info().Str("user_id", user.ID).Msg("session established")
	return session, nil
}

// Refresh rotates the stored pair through the shared refresher.
func (a *Auth) Refresh(ctx context.Context) (backend.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "auth.refresh")
	defer span.End()

	pair, err := a.refresher.Refresh(ctx)
	if err != nil {
		return backend.Session{}, errors.Wrap(err, "Auth.Refresh")
	}
	a.mu.RLock()
	user := a.user
	a.mu.RUnlock()
	return backend.Session{Tokens: pair, User: user}, nil
}

// Logout deletes the refresh token row on a best-effort basis and always
// clears the local session.
func (a *Auth) Logout(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "auth.logout")
	defer span.End()

	session, ok := a.Session()
	if !ok {
		return nil
	}
	if _, err := a.pool.Exec(ctx, deleteRefreshTokenSQL, session.Tokens.Refresh); err != nil {
		a.logger.Warn().Err(err).Msg("refresh token revocation failed, clearing local session anyway")
	}
	a.clearLocal()
	return nil
}

// Session returns the current session, if any.
func (a *Auth) Session() (backend.Session, bool) {
	pair := a.store.Pair()
	if pair.Zero() {
		return backend.Session{}, false
	}
	a.mu.RLock()
	user := a.user
	a.mu.RUnlock()
	return backend.Session{Tokens: pair, User: user}, true
}

// SetSession installs a previously persisted session.
func (a *Auth) SetSession(session backend.Session) {
	a.mu.Lock()
	a.user = session.User
	a.mu.Unlock()
	a.store.Set(session.Tokens)
}

// OnSessionExpired registers the listener invoked after a terminal refresh
// failure. An explicit Logout does not fire it.
func (a *Auth) OnSessionExpired(fn func()) {
	a.expiredMu.Lock()
	defer a.expiredMu.Unlock()
	a.onExpired = fn
}

// exchangeRefreshToken is the refresher's upstream call. The old row is
// deleted and a new one inserted in the same transaction, so a crash can
// lose a session but never duplicate one.
func (a *Auth) exchangeRefreshToken(ctx context.Context, refreshToken string) (token.Pair, error) {
	now := a.nowFunc()

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	var expires time.Time
	err = tx.QueryRow(ctx, selectRefreshTokenSQL, refreshToken).Scan(&userID, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return token.Pair{}, errors.Wrap(token.ErrRefreshInvalid, "refresh token unknown")
	}
	if err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken select")
	}
	if now.After(expires) {
		_, _ = tx.Exec(ctx, deleteRefreshTokenSQL, refreshToken)
		_ = tx.Commit(ctx)
		return token.Pair{}, errors.Wrap(token.ErrRefreshInvalid, "refresh token expired")
	}

	access, err := mintAccessToken(a.secret, userID, a.accessTTL, now)
	if err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken")
	}
	next, err := newRefreshToken()
	if err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken")
	}
	if _, err := tx.Exec(ctx, deleteRefreshTokenSQL, refreshToken); err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken delete")
	}
	if _, err := tx.Exec(ctx, insertRefreshTokenSQL, next, userID, now.Add(a.refreshTTL), now); err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken insert")
	}
	if err := tx.Commit(ctx); err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.exchangeRefreshToken commit")
	}
	return token.Pair{Access: access, Refresh: next}, nil
}

// ensureFreshSession is the document backend's stand-in for the api
// backend's 401 handling: when the stored access token has expired, one
// shared refresh rotates the pair before the operation proceeds. Holding no
// session at all is fine; access control is the connection string's concern.
func (a *Auth) ensureFreshSession(ctx context.Context) error {
	access := a.store.Access()
	if access == "" {
		return nil
	}
	if accessTokenValid(a.secret, access, a.nowFunc()) {
		return nil
	}
	if _, err := a.refresher.Refresh(ctx); err != nil {
		if errors.Is(err, token.ErrRefreshInvalid) || errors.Is(err, token.ErrNoSession) {
			return errors.Wrap(backend.ErrSessionExpired, "Auth.ensureFreshSession")
		}
		return errors.Wrap(err, "Auth.ensureFreshSession")
	}
	return nil
}

func (a *Auth) upsertUser(ctx context.Context, phone string) (backend.User, error) {
	var user backend.User
	err := a.pool.QueryRow(ctx, upsertUserSQL, uuid.NewString(), phone, a.nowFunc()).
		Scan(&user.ID, &user.Phone, &user.DisplayName)
	if err != nil {
		return backend.User{}, errors.Wrap(err, "Auth.upsertUser")
	}
	return user, nil
}

func (a *Auth) mintPair(ctx context.Context, userID string, now time.Time) (token.Pair, error) {
	access, err := mintAccessToken(a.secret, userID, a.accessTTL, now)
	if err != nil {
		return token.Pair{}, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return token.Pair{}, err
	}
	if _, err := a.pool.Exec(ctx, insertRefreshTokenSQL, refresh, userID, now.Add(a.refreshTTL), now); err != nil {
		return token.Pair{}, errors.Wrap(err, "Auth.mintPair")
	}
	return token.Pair{Access: access, Refresh: refresh}, nil
}

func (a *Auth) currentUser() backend.User {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

// sessionExpired runs after the refresher has cleared the store.
func (a *Auth) sessionExpired() {
	a.mu.Lock()
	a.user = backend.User{}
	a.mu.Unlock()

	a.expiredMu.Lock()
	fn := a.onExpired
	a.expiredMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *Auth) clearLocal() {
	a.mu.Lock()
	a.user = backend.User{}
	a.mu.Unlock()
	a.store.Clear()
}
