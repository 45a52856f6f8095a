// Package realtimefakes provides in-memory doubles for the realtime
// package's Dialer and Conn.
package realtimefakes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/parosapp/paros-go/realtime"
)

var _ realtime.Conn = (*FakeConn)(nil)
var _ realtime.Dialer = (*FakeDialer)(nil)

// FakeConn is a test-driven realtime.Conn. Frames written by the socket are
// recorded; frames queued with QueueRead are handed to ReadMessage in order.
type FakeConn struct {
	lock      sync.Mutex
	written   [][]byte
	writeErr  error
	writeHook func(data []byte)

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		reads:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *FakeConn) ReadMessage() (int, []byte, error) {
	// Drain queued frames before reporting closure.
	select {
	case data := <-c.reads:
		return 1, data, nil
	default:
	}
	select {
	case data := <-c.reads:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *FakeConn) WriteMessage(messageType int, data []byte) error {
	c.lock.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.lock.Unlock()
		return err
	}
	frame := append([]byte(nil), data...)
	c.written = append(c.written, frame)
	hook := c.writeHook
	c.lock.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// QueueRead queues a server frame for ReadMessage.
func (c *FakeConn) QueueRead(data []byte) {
	c.reads <- data
}

// QueueReadString queues a server frame given as a string.
func (c *FakeConn) QueueReadString(data string) {
	c.QueueRead([]byte(data))
}

// SetWriteError makes every subsequent write fail with err.
func (c *FakeConn) SetWriteError(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.writeErr = err
}

// SetWriteHook installs fn to run after every recorded write.
func (c *FakeConn) SetWriteHook(fn func(data []byte)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.writeHook = fn
}

// AutoAck makes the conn acknowledge every written frame that carries an id.
func (c *FakeConn) AutoAck() {
	c.SetWriteHook(func(data []byte) {
		var f struct {
			ID uint64 `json:"id"`
		}
		if json.Unmarshal(data, &f) == nil && f.ID != 0 {
			c.QueueReadString(fmt.Sprintf(`{"type":"ack","id":%d}`, f.ID))
		}
	})
}

// Written returns a copy of every frame written so far.
func (c *FakeConn) Written() [][]byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// WrittenStrings returns the written frames as strings.
func (c *FakeConn) WrittenStrings() []string {
	written := c.Written()
	out := make([]string, len(written))
	for i, frame := range written {
		out[i] = string(frame)
	}
	return out
}

// DialRecord captures one DialContext call.
type DialRecord struct {
	URL    string
	Header http.Header
}

// FakeDialer hands out queued FakeConns in order and records every dial.
type FakeDialer struct {
	lock  sync.Mutex
	conns []*FakeConn
	err   error
	dials []DialRecord
}

func NewFakeDialer(conns ...*FakeConn) *FakeDialer {
	return &FakeDialer{conns: conns}
}

func (d *FakeDialer) DialContext(ctx context.Context, url string, header http.Header) (realtime.Conn, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.dials = append(d.dials, DialRecord{URL: url, Header: header.Clone()})
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no connection queued")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

// Queue appends conns for subsequent dials.
func (d *FakeDialer) Queue(conns ...*FakeConn) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.conns = append(d.conns, conns...)
}

// SetError makes every subsequent dial fail with err.
func (d *FakeDialer) SetError(err error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.err = err
}

// Dials returns a copy of the recorded dials.
func (d *FakeDialer) Dials() []DialRecord {
	d.lock.Lock()
	defer d.lock.Unlock()
	out := make([]DialRecord, len(d.dials))
	copy(out, d.dials)
	return out
}
