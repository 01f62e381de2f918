package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Guliveer/pusher-go/internal/model"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// Read; frames written by the engine are collected in order.
type fakeConn struct {
	in       chan []byte
	readErr  chan error
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	sent     []Frame
	closedBy int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errFakeClosed
	case err := <-c.readErr:
		return nil, err
	case data := <-c.in:
		return data, nil
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closedBy = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) deliver(t *testing.T, event, channel string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Frame{Event: event, Channel: channel, Data: raw})
	require.NoError(t, err)
	c.in <- frame
}

// establish sends the handshake frame with data as a JSON-encoded string.
func (c *fakeConn) establish(t *testing.T, socketID string) {
	t.Helper()
	inner := fmt.Sprintf(`{"socket_id":%q,"activity_timeout":120}`, socketID)
	c.deliver(t, "pusher:connection_established", "", inner)
}

// drop makes the next Read fail as if the network went away.
func (c *fakeConn) drop() {
	c.readErr <- errors.New("connection reset by peer")
}

func (c *fakeConn) frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) framesOf(event string) []Frame {
	var out []Frame
	for _, f := range c.frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedBy
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out queued connections, or fails when err is set.
type fakeDialer struct {
	conns chan *fakeConn
	mu    sync.Mutex
	dials int
	err   error
}

func newFakeDialer(conns ...*fakeConn) *fakeDialer {
	d := &fakeDialer{conns: make(chan *fakeConn, 8)}
	for _, c := range conns {
		d.conns <- c
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-d.conns:
		return c, nil
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingSink collects dispatched events.
type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Dispatch(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// stateRecorder collects every accepted transition target.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) hook(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, t.To)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == want },
		2*time.Second, 2*time.Millisecond, "state never reached %s (now %s)", want, e.State())
}

func waitFrames(t *testing.T, c *fakeConn, event string, n int) []Frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.framesOf(event)) >= n },
		2*time.Second, 2*time.Millisecond, "expected %d %s frames", n, event)
	return c.framesOf(event)
}

func subscribeChannel(t *testing.T, f Frame) SubscribeData {
	t.Helper()
	var sd SubscribeData
	require.NoError(t, json.Unmarshal(f.Data, &sd))
	return sd
}
