// Package backend defines the provider interfaces and shared types of the
// Paros client SDK. Application code talks to these interfaces only; the
// restapi and docstore packages supply the concrete backends.
package backend

import (
	"context"
	"io"
)

// Kind identifies which backend implementation a handle is backed by.
type Kind string

const (
	// KindAPI is the REST + websocket backend.
	KindAPI Kind = "api"
	// KindDocument is the document-database backend.
	KindDocument Kind = "document"
)

// Backend is the single entry point the application holds. The four members
// share one token store, so a token rotation performed by any of them is
// visible to all of them on the next call.
type Backend interface {
	Kind() Kind
	Auth() AuthProvider
	Database() Database
	Storage() Storage
	Realtime() Realtime

	// Close releases the backend's resources. The realtime channel is
	// disconnected first so pending acknowledgements fail fast.
	Close(ctx context.Context) error
}

// AuthProvider manages the session lifecycle: OTP challenge, verification,
// token refresh and logout. Implementations keep both tokens in the shared
// token store and never leave a partial pair visible.
type AuthProvider interface {
	// RequestChallenge asks the backend to deliver a one-time code to the
	// given phone number. Delivery failures and rate limiting surface as
	// ErrChallengeDelivery.
	RequestChallenge(ctx context.Context, phone string) error

	// VerifyChallenge exchanges phone and code for a Session. The token
	// store is updated atomically before the session is returned.
	VerifyChallenge(ctx context.Context, phone, code string) (Session, error)

	// Refresh exchanges the stored refresh token for a new pair. Concurrent
	// callers share a single upstream call. ErrRefreshInvalid is terminal:
	// the store is cleared and the session-expired listener fires.
	Refresh(ctx context.Context) (Session, error)

	// Logout revokes the session remotely on a best-effort basis and always
	// clears the local store. It returns nil even when revocation fails.
	Logout(ctx context.Context) error

	// Session returns the current session, if any.
	Session() (Session, bool)

	// SetSession installs a previously persisted session. Token persistence
	// is owned by the caller; the SDK only holds tokens in memory.
	SetSession(session Session)

	// OnSessionExpired registers the single listener invoked when the
	// session terminates for any reason other than an explicit logout.
	OnSessionExpired(fn func())
}

// Database provides CRUD and querying over named collections of documents.
type Database interface {
	// Query returns the documents of a collection matching every filter.
	// Operators outside the backend's supported set are rejected with
	// *UnsupportedQueryError, never silently dropped.
	Query(ctx context.Context, collection string, filters []QueryFilter, opts QueryOptions) ([]Document, error)

	// GetByID fetches a single document. A missing document is reported as
	// (zero, false, nil), not as an error.
	GetByID(ctx context.Context, collection, id string) (Document, bool, error)

	// Create stores a new document and returns the full created
	// representation including the backend-assigned id. The supplied data
	// must be non-empty and must not contain an "id" key; both are rejected
	// with ErrInvalidQuery.
	Create(ctx context.Context, collection string, data map[string]any) (Document, error)

	// Update applies a partial patch and returns the updated document. An
	// empty patch is rejected with ErrInvalidQuery.
	Update(ctx context.Context, collection, id string, patch map[string]any) (Document, error)

	// Delete removes a document. Deleting an absent document is not an
	// error.
	Delete(ctx context.Context, collection, id string) error

	// BatchWrite executes the operations in order. Atomicity is a backend
	// property: the document backend runs one transaction, the api backend
	// forwards the batch and may partially apply it.
	BatchWrite(ctx context.Context, ops []BatchOperation) error
}

// Storage stores opaque binary content under caller-chosen paths.
type Storage interface {
	Upload(ctx context.Context, path string, content io.Reader, contentType string) (FileRef, error)

	// Download returns the content stored at path. The caller owns the
	// returned reader and must close it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	Delete(ctx context.Context, path string) error
}

// Realtime is the persistent bidirectional channel. Implementations keep the
// subscription registry across disconnects and replay it before Connect
// returns, so a send issued immediately after Connect can rely on the
// previous subscriptions being active.
type Realtime interface {
	// Connect opens the channel using the current access token. It returns
	// once the remote has confirmed the session and every retained
	// subscription has been re-established.
	Connect(ctx context.Context) error

	// Disconnect closes the channel and fails pending acknowledgements. It
	// is idempotent. The local subscription registry is retained.
	Disconnect()

	// Subscribe registers fn for a channel, replacing any previous handler
	// for the same channel.
	Subscribe(channel string, fn MessageHandler) error

	// Unsubscribe removes the channel from the registry and, while
	// connected, from the remote session.
	Unsubscribe(channel string) error

	// Publish sends without waiting for an acknowledgement.
	Publish(ctx context.Context, channel string, payload any) error

	// Send delivers payload and waits for the remote acknowledgement.
	// ErrSendTimeout and ErrSendRejected report the two failure modes.
	Send(ctx context.Context, channel string, payload any) error

	State() State

	// OnStateChange registers the single listener invoked on every state
	// transition. err is non-nil exactly when the transition was caused by
	// an involuntary connection loss.
	OnStateChange(fn func(state State, err error))
}
