// Package restapi implements the api backend: auth, database and storage
// over a REST contract plus a websocket realtime channel. All four providers
// share one token store, so a refresh performed by any request is visible to
// the rest of the backend immediately.
package restapi

import (
	"context"
	"net/http"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/realtime"
	"github.com/parosapp/paros-go/token"
	"github.com/parosapp/paros-go/transport"
	"github.com/pkg/errors"
)

// Backend is the api-kind backend.
type Backend struct {
	cfg       backend.Config
	store     *token.Store
	refresher *token.Refresher

	auth     *Auth
	database *Database
	storage  *Storage
	socket   *realtime.Socket
}

var _ backend.Backend = (*Backend)(nil)

// New builds the api backend from cfg. Requests issued through the backend
// carry the current access token and retry once after a refresh when the
// server answers 401. The refresh exchange itself runs on a bare client so it
// can never recurse into that retry.
func New(cfg backend.Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "restapi.New")
	}
	if cfg.Kind != backend.KindAPI {
		return nil, errors.Errorf("restapi.New: config is for the %q backend", cfg.Kind)
	}
	cfg = cfg.WithDefaults()
	logger := cfg.LoggerOrNop()

	store := token.NewStore()

	bare := transport.New(cfg.APIBaseURL,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithLogger(logger),
	)
	refresher := token.NewRefresher(store, refreshExchange(bare),
		token.WithTimeout(cfg.RefreshTimeout),
		token.WithLogger(logger),
	)
	client := transport.New(cfg.APIBaseURL,
		transport.WithTimeout(cfg.RequestTimeout),
		transport.WithLogger(logger),
		transport.WithInterceptors(
			transport.RetryOnAuthFailure(refresher, store),
			transport.AttachToken(store),
		),
	)

	b := &Backend{
		cfg:       cfg,
		store:     store,
		refresher: refresher,
		database:  newDatabase(client),
		storage:   newStorage(client),
		socket: realtime.NewSocket(cfg.APISocketURL, store,
			realtime.WithLogger(logger),
			realtime.WithConnectTimeout(cfg.ConnectTimeout),
			realtime.WithSendTimeout(cfg.SendTimeout),
		),
	}
	b.auth = newAuth(bare, client, store, refresher, logger)
	return b, nil
}

func (b *Backend) Kind() backend.Kind         { return backend.KindAPI }
func (b *Backend) Auth() backend.AuthProvider { return b.auth }
func (b *Backend) Database() backend.Database { return b.database }
func (b *Backend) Storage() backend.Storage   { return b.storage }
func (b *Backend) Realtime() backend.Realtime { return b.socket }

// Close tears down the realtime channel. The HTTP transport keeps no
// connection state worth closing beyond the pool, which drains on its own.
func (b *Backend) Close(ctx context.Context) error {
	b.socket.Disconnect()
	return nil
}

// refreshExchange adapts the /auth/refresh endpoint to the refresher. A 401
// or 403 from the endpoint means the refresh token itself was rejected, which
// is terminal for the session.
func refreshExchange(client *transport.Client) token.RefreshFunc {
	return func(ctx context.Context, refreshToken string) (token.Pair, error) {
		var out refreshResponse
		err := client.DoJSON(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &out)
		if err != nil {
			var terr *backend.TransportError
			if errors.As(err, &terr) && (terr.Status == http.StatusUnauthorized || terr.Status == http.StatusForbidden) {
				return token.Pair{}, errors.Wrap(token.ErrRefreshInvalid, terr.Message)
			}
			return token.Pair{}, errors.Wrap(err, "restapi.refreshExchange")
		}
		return token.Pair{Access: out.AccessToken, Refresh: out.RefreshToken}, nil
	}
}
