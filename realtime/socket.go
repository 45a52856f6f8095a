package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Conn is the subset of a websocket connection the Socket needs. It exists
// so tests can drive the Socket without a network.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn. The default dialer wraps gorilla's.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (g gorillaDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := g.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

// Socket is the websocket realtime channel. It owns a state machine of
// Disconnected, Connecting and Connected, a subscription registry that
// survives disconnects, and the pending table matching acknowledged sends to
// their server replies.
type Socket struct {
	url            string
	store          *token.Store
	dialer         Dialer
	logger         zerolog.Logger
	connectTimeout time.Duration
	sendTimeout    time.Duration
	subs           *Subscriptions

	mu      sync.Mutex
	state   backend.State
	conn    Conn
	gen     int
	nextID  uint64
	pending map[uint64]chan error
	stateFn func(state backend.State, err error)

	// writeMu serializes frame writes; the websocket allows one writer.
	writeMu sync.Mutex
}

// SocketOption modifies a Socket at construction.
type SocketOption func(*Socket)

// WithDialer replaces the websocket dialer (used by tests).
func WithDialer(dialer Dialer) SocketOption {
	return func(s *Socket) {
		s.dialer = dialer
	}
}

// WithLogger sets the socket's logger.
func WithLogger(logger zerolog.Logger) SocketOption {
	return func(s *Socket) {
		s.logger = logger
	}
}

// WithConnectTimeout bounds Connect, handshake and resubscription included.
func WithConnectTimeout(d time.Duration) SocketOption {
	return func(s *Socket) {
		s.connectTimeout = d
	}
}

// WithSendTimeout bounds how long Send waits for an acknowledgement.
func WithSendTimeout(d time.Duration) SocketOption {
	return func(s *Socket) {
		s.sendTimeout = d
	}
}

func NewSocket(url string, store *token.Store, options ...SocketOption) *Socket {
	s := &Socket{
		url:            url,
		store:          store,
		dialer:         gorillaDialer{dialer: websocket.DefaultDialer},
		logger:         zerolog.Nop(),
		connectTimeout: backend.DefaultConnectTimeout,
		sendTimeout:    backend.DefaultSendTimeout,
		subs:           NewSubscriptions(),
		state:          backend.StateDisconnected,
		pending:        make(map[uint64]chan error),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

var _ backend.Realtime = (*Socket)(nil)

// Connect dials the socket with the current access token, waits for the
// server's hello frame and replays every retained subscription before
// returning. Connect on a connected socket is a no-op.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case backend.StateConnected:
		s.mu.Unlock()
		return nil
	case backend.StateConnecting:
		s.mu.Unlock()
		return errors.Wrap(backend.ErrConnectFailed, "Socket.Connect connect already in progress")
	}
	s.state = backend.StateConnecting
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	s.notifyState(backend.StateConnecting, nil)

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, err := s.handshake(ctx)
	if err != nil {
		s.abortConnect(gen, err)
		return errors.Wrapf(backend.ErrConnectFailed, "Socket.Connect: %v", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != backend.StateConnecting {
		// Disconnected while dialing; the new conn has no owner.
		s.mu.Unlock()
		_ = conn.Close()
		return errors.Wrap(backend.ErrConnectFailed, "Socket.Connect cancelled while dialing")
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(gen, conn)

	replayed, err := s.resubscribe(ctx, conn)
	if err != nil {
		s.teardown(gen, err)
		return errors.Wrapf(backend.ErrConnectFailed, "Socket.Connect resubscribe: %v", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != backend.StateConnecting {
		// Torn down while resubscribing.
		s.mu.Unlock()
		return errors.Wrap(backend.ErrConnectFailed, "Socket.Connect connection lost during connect")
	}
	s.state = backend.StateConnected
	s.mu.Unlock()

	// Channels subscribed while the replay ran missed its snapshot, and
	// Subscribe does not transmit before the state turns Connected. Register
	// them on this connection now; a duplicate frame for a channel that also
	// self-registered is harmless.
	for _, channel := range s.subs.Channels() {
		if replayed[channel] {
			continue
		}
		if err := s.writeFrame(conn, frame{Type: frameSubscribe, Channel: channel}); err != nil {
			s.logger.Warn().Err(err).Str("channel", channel).Msg("late subscription not sent")
			break
		}
	}

	s.notifyState(backend.StateConnected, nil)
	s.logger.Info().Str("url", s.url).Int("subscriptions", s.subs.Len()).Msg("realtime channel connected")
	return nil
}

// Disconnect closes the connection and fails pending acknowledgements. The
// subscription registry is retained for the next Connect. Idempotent.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.state == backend.StateDisconnected {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.mu.Unlock()
	s.teardown(gen, nil)
}

// Subscribe registers fn for channel, replacing any previous handler, and
// registers the channel remotely when connected.
func (s *Socket) Subscribe(channel string, fn backend.MessageHandler) error {
	if channel == "" {
		return errors.New("Socket.Subscribe channel is required")
	}
	if fn == nil {
		return errors.New("Socket.Subscribe handler is required")
	}
	s.subs.Set(channel, fn)

	conn, connected := s.liveConn()
	if !connected {
		return nil
	}
	if err := s.writeFrame(conn, frame{Type: frameSubscribe, Channel: channel}); err != nil {
		return errors.Wrapf(err, "Socket.Subscribe %s", channel)
	}
	return nil
}

// Unsubscribe removes the channel locally and remotely.
func (s *Socket) Unsubscribe(channel string) error {
	s.subs.Remove(channel)

	conn, connected := s.liveConn()
	if !connected {
		return nil
	}
	if err := s.writeFrame(conn, frame{Type: frameUnsubscribe, Channel: channel}); err != nil {
		return errors.Wrapf(err, "Socket.Unsubscribe %s", channel)
	}
	return nil
}

// Publish sends payload on channel without waiting for an acknowledgement.
func (s *Socket) Publish(ctx context.Context, channel string, payload any) error {
	conn, connected := s.liveConn()
	if !connected {
		return errors.Wrap(backend.ErrNotConnected, "Socket.Publish")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "Socket.Publish marshal")
	}
	if err := s.writeFrame(conn, frame{Type: framePublish, Channel: channel, Payload: raw}); err != nil {
		return errors.Wrapf(err, "Socket.Publish %s", channel)
	}
	return nil
}

// Send delivers payload on channel and waits for the server's
// acknowledgement. It fails with ErrSendTimeout when no acknowledgement
// arrives in time and ErrSendRejected when the server answers with an error
// frame.
func (s *Socket) Send(ctx context.Context, channel string, payload any) error {
	conn, connected := s.liveConn()
	if !connected {
		return errors.Wrap(backend.ErrNotConnected, "Socket.Send")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "Socket.Send marshal")
	}

	id, ack := s.registerPending()
	if err := s.writeFrame(conn, frame{ID: id, Type: framePublish, Channel: channel, Payload: raw}); err != nil {
		s.forgetPending(id)
		return errors.Wrapf(err, "Socket.Send %s", channel)
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		if err != nil {
			return errors.Wrapf(err, "Socket.Send %s", channel)
		}
		return nil
	case <-ctx.Done():
		s.forgetPending(id)
		return errors.Wrap(ctx.Err(), "Socket.Send")
	case <-timer.C:
		s.forgetPending(id)
		return errors.Wrapf(backend.ErrSendTimeout, "Socket.Send %s", channel)
	}
}

// State returns the current connection state.
func (s *Socket) State() backend.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers the single state listener.
func (s *Socket) OnStateChange(fn func(state backend.State, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateFn = fn
}

// handshake dials and waits for the server's hello frame.
func (s *Socket) handshake(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if access := s.store.Access(); access != "" {
		header.Set("Authorization", "Bearer "+access)
	}

	conn, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	type readResult struct {
		f   frame
		err error
	}
	first := make(chan readResult, 1)
	go func() {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			first <- readResult{err: err}
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			first <- readResult{err: errors.Wrap(err, "decode hello")}
			return
		}
		first <- readResult{f: f}
	}()

	select {
	case res := <-first:
		if res.err != nil {
			_ = conn.Close()
			return nil, res.err
		}
		if res.f.Type != frameHello {
			_ = conn.Close()
			if res.f.Type == frameError {
				return nil, errors.Errorf("server rejected session: %s", res.f.Error)
			}
			return nil, errors.Errorf("expected hello frame, got %q", res.f.Type)
		}
		return conn, nil
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

// resubscribe replays the retained registry, awaiting an acknowledgement per
// channel so the caller can rely on subscriptions being live. It reports
// which channels it replayed; anything registered after the snapshot is the
// caller's to transmit.
func (s *Socket) resubscribe(ctx context.Context, conn Conn) (map[string]bool, error) {
	channels := s.subs.Channels()
	replayed := make(map[string]bool, len(channels))
	for _, channel := range channels {
		if err := s.sendAndAwait(ctx, conn, frame{Type: frameSubscribe, Channel: channel}); err != nil {
			return nil, errors.Wrapf(err, "subscribe %s", channel)
		}
		replayed[channel] = true
	}
	return replayed, nil
}

func (s *Socket) sendAndAwait(ctx context.Context, conn Conn, f frame) error {
	id, ack := s.registerPending()
	f.ID = id

	if err := s.writeFrame(conn, f); err != nil {
		s.forgetPending(id)
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		s.forgetPending(id)
		return ctx.Err()
	}
}

func (s *Socket) readLoop(gen int, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.teardown(gen, err)
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch f.Type {
		case frameEvent:
			if !s.subs.Dispatch(backend.Message{Channel: f.Channel, Payload: f.Payload}) {
				s.logger.Debug().Str("channel", f.Channel).Msg("event for unsubscribed channel")
			}
		case frameAck:
			s.resolvePending(f.ID, nil)
		case frameError:
			if f.ID != 0 {
				s.resolvePending(f.ID, errors.Wrap(backend.ErrSendRejected, f.Error))
			} else {
				s.logger.Warn().Str("error", f.Error).Msg("server error frame")
			}
		case frameHello:
			// Duplicate hello after the handshake carries no information.
		default:
			s.logger.Debug().Str("type", f.Type).Msg("unknown frame type")
		}
	}
}

// teardown moves generation gen to Disconnected. err nil marks a voluntary
// disconnect. Later generations are left alone, so a stale reader exiting
// cannot clobber a newer connection.
func (s *Socket) teardown(gen int, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state == backend.StateDisconnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = backend.StateDisconnected
	failed := s.pending
	s.pending = make(map[uint64]chan error)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range failed {
		ch <- errors.Wrap(backend.ErrNotConnected, "connection lost before acknowledgement")
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("realtime channel lost")
	}
	s.notifyState(backend.StateDisconnected, err)
}

// abortConnect returns a failed connect attempt to Disconnected unless a
// concurrent Disconnect already moved the state.
func (s *Socket) abortConnect(gen int, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state != backend.StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = backend.StateDisconnected
	s.mu.Unlock()
	s.notifyState(backend.StateDisconnected, err)
}

func (s *Socket) liveConn() (Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != backend.StateConnected || s.conn == nil {
		return nil, false
	}
	return s.conn, true
}

func (s *Socket) registerPending() (uint64, chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	ch := make(chan error, 1)
	s.pending[id] = ch
	return id, ch
}

func (s *Socket) resolvePending(id uint64, err error) {
	s.mu.Lock()
	ch := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func (s *Socket) forgetPending(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Socket) writeFrame(conn Conn, f frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Socket) notifyState(state backend.State, err error) {
	s.mu.Lock()
	fn := s.stateFn
	s.mu.Unlock()
	if fn != nil {
		fn(state, err)
	}
}
