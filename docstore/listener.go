package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/parosapp/paros-go/realtime"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// listenChannel is the single PostgreSQL notification channel everything
// rides on. Logical channels are multiplexed inside the payload, so a
// subscribe never needs another LISTEN. NOTIFY payloads are capped at about
// 8KB by the server; larger messages belong in paros_messages with a
// reference in the notification.
const listenChannel = "paros_events"

// eventEnvelope is the notification payload shape.
type eventEnvelope struct {
	Channel  string          `json:"channel"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId,omitempty"`
}

// Listener implements the realtime contract over LISTEN/NOTIFY. Connect
// hijacks one connection out of the pool and parks it on
// WaitForNotification; sends go through the pool like any other query. The
// subscription registry is local and survives disconnects, mirroring the
// websocket implementation.
type Listener struct {
	pool   *pgxpool.Pool
	guard  guardFunc
	sender func() backend.User
	logger zerolog.Logger

	connectTimeout time.Duration
	sendTimeout    time.Duration
	subs           *realtime.Subscriptions

	mu      sync.Mutex
	state   backend.State
	conn    *pgx.Conn
	cancel  context.CancelFunc
	gen     uint64
	stateFn func(backend.State, error)
}

var _ backend.Realtime = (*Listener)(nil)

func newListener(pool *pgxpool.Pool, guard guardFunc, sender func() backend.User, logger zerolog.Logger, connectTimeout, sendTimeout time.Duration) *Listener {
	return &Listener{
		pool:           pool,
		guard:          guard,
		sender:         sender,
		logger:         logger,
		connectTimeout: connectTimeout,
		sendTimeout:    sendTimeout,
		subs:           realtime.NewSubscriptions(),
	}
}

// Connect dedicates a connection to LISTEN and starts the notification loop.
// There is nothing to replay: the one LISTEN covers every logical channel
// and the registry filters locally.
func (l *Listener) Connect(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case backend.StateConnected:
		l.mu.Unlock()
		return nil
	case backend.StateConnecting:
		l.mu.Unlock()
		return errors.Wrap(backend.ErrConnectFailed, "Listener.Connect already connecting")
	}
	l.gen++
	gen := l.gen
	l.state = backend.StateConnecting
	l.mu.Unlock()
	l.notifyState(backend.StateConnecting, nil)

	dialCtx, cancelDial := context.WithTimeout(ctx, l.connectTimeout)
	defer cancelDial()

	if err := l.guard(dialCtx); err != nil {
		err = errors.Wrap(err, "Listener.Connect")
		l.abortConnect(gen, err)
		return err
	}

	pooled, err := l.pool.Acquire(dialCtx)
	if err != nil {
		err = errors.Wrap(backend.ErrConnectFailed, err.Error())
		l.abortConnect(gen, err)
		return err
	}
	// Hijack takes the connection out of the pool for good: a conn with an
	// active LISTEN must never be handed to another borrower.
	conn := pooled.Hijack()

	if _, err := conn.Exec(dialCtx, "LISTEN "+pgx.Identifier{listenChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		err = errors.Wrap(backend.ErrConnectFailed, err.Error())
		l.abortConnect(gen, err)
		return err
	}

	waitCtx, cancelWait := context.WithCancel(context.Background())

	l.mu.Lock()
	if l.gen != gen || l.state != backend.StateConnecting {
		// Disconnect won the race while we were acquiring.
		l.mu.Unlock()
		cancelWait()
		_ = conn.Close(context.Background())
		return errors.Wrap(backend.ErrConnectFailed, "Listener.Connect cancelled while acquiring")
	}
	l.conn = conn
	l.cancel = cancelWait
	l.state = backend.StateConnected
	l.mu.Unlock()

	go l.waitLoop(waitCtx, gen, conn)

	l.notifyState(backend.StateConnected, nil)
	return nil
}

// Disconnect parks the listener. The subscription registry is retained.
func (l *Listener) Disconnect() {
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()
	l.teardown(gen, nil)
}

// Subscribe registers fn for a logical channel; the last handler wins.
func (l *Listener) Subscribe(channel string, fn backend.MessageHandler) error {
	if channel == "" {
		return errors.New("Listener.Subscribe channel is required")
	}
	if fn == nil {
		return errors.New("Listener.Subscribe handler is required")
	}
	l.subs.Set(channel, fn)
	return nil
}

// Unsubscribe drops the channel's handler.
func (l *Listener) Unsubscribe(channel string) error {
	l.subs.Remove(channel)
	return nil
}

// Publish raises a notification without persisting the message.
func (l *Listener) Publish(ctx context.Context, channel string, payload any) error {
	ctx, span := telemetry.StartSpan(ctx, "realtime.publish", attribute.String("channel", channel))
	defer span.End()

	if l.State() != backend.StateConnected {
		return errors.Wrap(backend.ErrNotConnected, "Listener.Publish")
	}
	if err := l.guard(ctx); err != nil {
		return errors.Wrap(err, "Listener.Publish")
	}

	envelope, _, err := l.buildEnvelope(channel, payload)
	if err != nil {
		return errors.Wrap(err, "Listener.Publish")
	}
	if _, err := l.pool.Exec(ctx, "SELECT pg_notify($1, $2)", listenChannel, envelope); err != nil {
		return errors.Wrap(err, "Listener.Publish")
	}
	return nil
}

const insertMessageSQL = `
INSERT INTO paros_messages (id, channel, payload, sender_id)
VALUES ($1, $2, $3, $4)`

// Send persists the message and raises the notification in one transaction.
// The commit is the acknowledgement: when Send returns nil the message is
// durable and every listening session has been notified.
func (l *Listener) Send(ctx context.Context, channel string, payload any) error {
	ctx, span := telemetry.StartSpan(ctx, "realtime.send", attribute.String("channel", channel))
	defer span.End()

	if l.State() != backend.StateConnected {
		return errors.Wrap(backend.ErrNotConnected, "Listener.Send")
	}
	if err := l.guard(ctx); err != nil {
		return errors.Wrap(err, "Listener.Send")
	}

	envelope, raw, err := l.buildEnvelope(channel, payload)
	if err != nil {
		return errors.Wrap(err, "Listener.Send")
	}

	ctx, cancel := context.WithTimeout(ctx, l.sendTimeout)
	defer cancel()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return l.sendFailure(ctx, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertMessageSQL, uuid.NewString(), channel, raw, l.sender().ID); err != nil {
		return l.sendFailure(ctx, err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", listenChannel, envelope); err != nil {
		return l.sendFailure(ctx, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return l.sendFailure(ctx, err)
	}
	return nil
}

// sendFailure separates the contract's failure modes. The deadline elapsing
// is a timeout and caller cancellation passes through as the context error;
// everything else is the backend refusing the write.
func (l *Listener) sendFailure(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(backend.ErrSendTimeout, "Listener.Send")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.Wrap(ctx.Err(), "Listener.Send")
	}
	return errors.Wrap(backend.ErrSendRejected, err.Error())
}

// State returns the current connection state.
func (l *Listener) State() backend.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OnStateChange registers the single state listener.
func (l *Listener) OnStateChange(fn func(state backend.State, err error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stateFn = fn
}

func (l *Listener) buildEnvelope(channel string, payload any) (string, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal payload")
	}
	envelope, err := json.Marshal(eventEnvelope{
		Channel:  channel,
		Payload:  raw,
		SenderID: l.sender().ID,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal envelope")
	}
	return string(envelope), raw, nil
}

func (l *Listener) waitLoop(ctx context.Context, gen uint64, conn *pgx.Conn) {
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // voluntary disconnect, teardown already ran
			}
			l.teardown(gen, errors.Wrap(err, "Listener.waitLoop"))
			return
		}
		l.dispatch(notification.Payload)
	}
}

func (l *Listener) dispatch(payload string) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		l.logger.Warn().Err(err).Msg("dropping malformed notification payload")
		return
	}
	if !l.subs.Dispatch(backend.Message{Channel: env.Channel, Payload: env.Payload}) {
		l.logger.Debug().Str("channel", env.Channel).Msg("notification for channel without handler")
	}
}

func (l *Listener) teardown(gen uint64, err error) {
	l.mu.Lock()
	if l.gen != gen || l.state == backend.StateDisconnected {
		l.mu.Unlock()
		return
	}
	conn := l.conn
	cancel := l.cancel
	l.conn = nil
	l.cancel = nil
	l.state = backend.StateDisconnected
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(context.Background())
	}
	l.notifyState(backend.StateDisconnected, err)
}

func (l *Listener) abortConnect(gen uint64, err error) {
	l.mu.Lock()
	if l.gen != gen || l.state != backend.StateConnecting {
		l.mu.Unlock()
		return
	}
	l.state = backend.StateDisconnected
	l.mu.Unlock()
	l.notifyState(backend.StateDisconnected, err)
}

func (l *Listener) notifyState(state backend.State, err error) {
	l.mu.Lock()
	fn := l.stateFn
	l.mu.Unlock()
	if fn != nil {
		fn(state, err)
	}
}
