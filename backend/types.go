package backend

import (
	"encoding/json"

	"github.com/parosapp/paros-go/token"
)

// User is the profile returned by challenge verification.
type User struct {
	ID          string `json:"id"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName,omitempty"`
}

// Session is an authenticated user plus their token pair. Sessions live in
// memory only; persisting and restoring them across process restarts is the
// caller's concern (see AuthProvider.SetSession).
type Session struct {
	Tokens token.Pair `json:"tokens"`
	User   User       `json:"user"`
}

// Document is a single record of a collection. Data holds the document
// fields; the id is carried separately and never duplicated inside Data.
type Document struct {
	ID   string
	Data map[string]any
}

// Operator is a query comparison operator. The set is fixed; each backend
// validates filters against the subset it supports.
type Operator string

const (
	OpEqual         Operator = "eq"
	OpNotEqual      Operator = "neq"
	OpGreater       Operator = "gt"
	OpGreaterEqual  Operator = "gte"
	OpLess          Operator = "lt"
	OpLessEqual     Operator = "lte"
	OpIn            Operator = "in"
	OpArrayContains Operator = "array-contains"
)

// Operators lists every operator of the query model.
var Operators = []Operator{
	OpEqual, OpNotEqual, OpGreater, OpGreaterEqual,
	OpLess, OpLessEqual, OpIn, OpArrayContains,
}

// Known reports whether op is part of the query model at all, as opposed to
// being supported by a particular backend.
func (op Operator) Known() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// QueryFilter is a single field comparison. Filters combine with AND.
type QueryFilter struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Direction orders query results.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// QueryOptions shape a query's result set. The zero value applies no
// ordering and no limit.
type QueryOptions struct {
	OrderBy   string
	Direction Direction
	Limit     int
	Offset    int
}

// Validate rejects option combinations no backend can honor.
func (o QueryOptions) Validate() error {
	if o.Limit < 0 {
		return errorsWrapInvalidQuery("limit must not be negative")
	}
	if o.Offset < 0 {
		return errorsWrapInvalidQuery("offset must not be negative")
	}
	if o.Direction != "" && o.Direction != Ascending && o.Direction != Descending {
		return errorsWrapInvalidQuery("direction must be asc or desc")
	}
	if o.Direction != "" && o.OrderBy == "" {
		return errorsWrapInvalidQuery("direction requires orderBy")
	}
	return nil
}

// BatchKind tags a BatchOperation.
type BatchKind string

const (
	BatchCreate BatchKind = "create"
	BatchUpdate BatchKind = "update"
	BatchDelete BatchKind = "delete"
)

// BatchOperation is one element of a BatchWrite. Create ignores ID, update
// and delete require it, delete ignores Data.
type BatchOperation struct {
	Kind       BatchKind      `json:"kind"`
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Validate checks the operation's shape before it reaches a backend.
func (op BatchOperation) Validate() error {
	if op.Collection == "" {
		return errorsWrapInvalidQuery("batch operation requires a collection")
	}
	switch op.Kind {
	case BatchCreate:
		if len(op.Data) == 0 {
			return errorsWrapInvalidQuery("batch create requires data")
		}
	case BatchUpdate:
		if op.ID == "" {
			return errorsWrapInvalidQuery("batch update requires an id")
		}
		if len(op.Data) == 0 {
			return errorsWrapInvalidQuery("batch update requires data")
		}
	case BatchDelete:
		if op.ID == "" {
			return errorsWrapInvalidQuery("batch delete requires an id")
		}
	default:
		return errorsWrapInvalidQuery("unknown batch kind " + string(op.Kind))
	}
	return nil
}

// FileRef describes stored binary content.
type FileRef struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Message is one realtime delivery. Payload is the raw JSON the remote sent;
// handlers decode it into whatever shape the channel carries.
type Message struct {
	Channel string
	Payload json.RawMessage
}

// MessageHandler consumes realtime messages. Handlers run on the channel's
// reader goroutine and must not block.
type MessageHandler func(msg Message)

// State is the realtime channel's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}
