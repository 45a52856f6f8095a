package restapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/parosapp/paros-go/token"
	"github.com/parosapp/paros-go/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Auth drives the phone-challenge session lifecycle against the /auth
// endpoints. Tokens live in the shared store; the user profile lives here.
type Auth struct {
	bare      *transport.Client // challenge, verify and refresh run unauthenticated
	client    *transport.Client // logout runs through the authenticated chain
	store     *token.Store
	refresher *token.Refresher
	logger    zerolog.Logger

	mu   sync.RWMutex
	user backend.User

	expiredMu sync.Mutex
	onExpired func()
}

var _ backend.AuthProvider = (*Auth)(nil)

func newAuth(bare, client *transport.Client, store *token.Store, refresher *token.Refresher, logger zerolog.Logger) *Auth {
	a := &Auth{
		bare:      bare,
		client:    client,
		store:     store,
		refresher: refresher,
		logger:    logger,
	}
	refresher.OnSessionExpired(a.sessionExpired)
	return a
}

// RequestChallenge asks the server to deliver a one-time code to phone.
func (a *Auth) RequestChallenge(ctx context.Context, phone string) error {
	ctx, span := telemetry.StartSpan(ctx, "auth.request_challenge")
	defer span.End()

	err := a.bare.DoJSON(ctx, http.MethodPost, "/auth/otp/request", challengeRequest{Phone: phone}, nil)
	if err != nil {
		return errors.Wrap(mapChallengeError(err), "Auth.RequestChallenge")
	}
	return nil
}

// VerifyChallenge exchanges phone and code for a session. The token store is
// updated before the session is returned, so the very next request already
// carries the new access token.
func (a *Auth) VerifyChallenge(ctx context.Context, phone, code string) (backend.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "auth.verify_challenge")
	defer span.End()

	var out verifyResponse
	err := a.bare.DoJSON(ctx, http.MethodPost, "/auth/otp/verify", verifyRequest{Phone: phone, Code: code}, &out)
	if err != nil {
		return backend.Session{}, errors.Wrap(mapVerifyError(err), "Auth.VerifyChallenge")
	}

	session := backend.Session{
		Tokens: token.Pair{Access: out.AccessToken, Refresh: out.RefreshToken},
		User:   out.User,
	}
	a.SetSession(session)
	a.logger.Info().Str("user_id", session.User.ID).Msg("session established")
	return session, nil
}

// Refresh rotates the stored pair. Concurrent callers share one upstream
// exchange through the refresher.
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

// Logout revokes the session server-side on a best-effort basis and always
// clears the local session. A failed revocation is logged, not returned: the
// caller asked to be logged out and locally they are.
func (a *Auth) Logout(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "auth.logout")
	defer span.End()

	if _, ok := a.Session(); !ok {
		return nil
	}
	if err := a.client.DoJSON(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		a.logger.Warn().Err(err).Msg("remote logout failed, clearing local session anyway")
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

// mapChallengeError folds delivery failures, including rate limiting, into
// ErrChallengeDelivery. Anything else passes through untouched.
func mapChallengeError(err error) error {
	var terr *backend.TransportError
	if !errors.As(err, &terr) {
		return err
	}
	if terr.Status == http.StatusTooManyRequests || terr.Code == "delivery_failed" {
		return errors.Wrap(backend.ErrChallengeDelivery, terr.Message)
	}
	return err
}

// mapVerifyError translates the server's machine codes into the sentinel the
// caller matches on.
func mapVerifyError(err error) error {
	var terr *backend.TransportError
	if !errors.As(err, &terr) {
		return err
	}
	switch terr.Code {
	case "invalid_code":
		return errors.Wrap(backend.ErrInvalidCode, terr.Message)
	case "challenge_not_found", "challenge_expired":
		return errors.Wrap(backend.ErrChallengeNotFound, terr.Message)
	}
	return err
}

type challengeRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type verifyResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         backend.User `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
