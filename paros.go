// Package paros is the client SDK for the Paros marketplace app. It exposes
// one backend surface with two interchangeable implementations: the api kind,
// which talks to the mobile REST service and its websocket, and the document
// kind, which goes straight to PostgreSQL. Applications pick a kind through
// configuration and never branch on it again.
package paros

import (
	"context"
	"sync"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/docstore"
	"github.com/parosapp/paros-go/internal/config"
	"github.com/parosapp/paros-go/restapi"
	"github.com/pkg/errors"
)

// Provider surface, re-exported so most applications only import this
// package.
type (
	Backend      = backend.Backend
	Config       = backend.Config
	Kind         = backend.Kind
	AuthProvider = backend.AuthProvider
	Database     = backend.Database
	Storage      = backend.Storage
	Realtime     = backend.Realtime
)

// Data types crossing the provider surface.
type (
	Session        = backend.Session
	User           = backend.User
	Document       = backend.Document
	QueryFilter    = backend.QueryFilter
	QueryOptions   = backend.QueryOptions
	Operator       = backend.Operator
	Direction      = backend.Direction
	BatchKind      = backend.BatchKind
	BatchOperation = backend.BatchOperation
	FileRef        = backend.FileRef
	Message        = backend.Message
	MessageHandler = backend.MessageHandler
	State          = backend.State

	TransportError        = backend.TransportError
	UnsupportedQueryError = backend.UnsupportedQueryError
)

const (
	KindAPI      = backend.KindAPI
	KindDocument = backend.KindDocument
)

const (
	OpEqual         = backend.OpEqual
	OpNotEqual      = backend.OpNotEqual
	OpGreater       = backend.OpGreater
	OpGreaterEqual  = backend.OpGreaterEqual
	OpLess          = backend.OpLess
	OpLessEqual     = backend.OpLessEqual
	OpIn            = backend.OpIn
	OpArrayContains = backend.OpArrayContains
)

const (
	Ascending  = backend.Ascending
	Descending = backend.Descending
)

const (
	BatchCreate = backend.BatchCreate
	BatchUpdate = backend.BatchUpdate
	BatchDelete = backend.BatchDelete
)

const (
	StateDisconnected = backend.StateDisconnected
	StateConnecting   = backend.StateConnecting
	StateConnected    = backend.StateConnected
)

var (
	ErrChallengeDelivery = backend.ErrChallengeDelivery
	ErrInvalidCode       = backend.ErrInvalidCode
	ErrChallengeNotFound = backend.ErrChallengeNotFound
	ErrRefreshInvalid    = backend.ErrRefreshInvalid
	ErrSessionExpired    = backend.ErrSessionExpired
)

var (
	ErrNotConnected  = backend.ErrNotConnected
	ErrConnectFailed = backend.ErrConnectFailed
	ErrSendTimeout   = backend.ErrSendTimeout
	ErrSendRejected  = backend.ErrSendRejected
)

var (
	ErrInvalidQuery = backend.ErrInvalidQuery
)

// New builds a backend for cfg. This is the dependency-injection
// constructor; Handle wraps it with environment loading and a process-wide
// singleton.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Kind {
	case backend.KindAPI:
		return restapi.New(cfg)
	case backend.KindDocument:
		return docstore.New(ctx, cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "paros.New")
	}
	return nil, errors.Errorf("paros.New: no implementation for backend kind %q", cfg.Kind)
}

var (
	handleMu sync.Mutex
	handle   Backend
)

// Handle returns the process-wide backend, constructed from the environment
// on first use. A construction failure is not cached; every call retries
// until one succeeds.
func Handle(ctx context.Context) (Backend, error) {
	handleMu.Lock()
	defer handleMu.Unlock()

	if handle != nil {
		return handle, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "paros.Handle")
	}
	b, err := New(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "paros.Handle")
	}
	handle = b
	return handle, nil
}

// Reset closes the singleton and forgets it. The next Handle call rebuilds
// from the then-current environment.
func Reset(ctx context.Context) error {
	handleMu.Lock()
	defer handleMu.Unlock()

	if handle == nil {
		return nil
	}
	err := handle.Close(ctx)
	handle = nil
	return err
}
