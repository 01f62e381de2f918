package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guliveer/pusher-go/internal/auth"
	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/metric"
	"github.com/Guliveer/pusher-go/internal/model"
)

// Sink receives every application and subscription event read from the
// socket, in arrival order, on the engine's read goroutine.
type Sink interface {
	Dispatch(ev model.Event)
}

// Options configures an Engine. Zero durations take the package defaults.
type Options struct {
	URL    string
	Dialer Dialer

	Backoff Backoff
	// MaxRetries bounds consecutive failed attempts; 0 retries forever.
	MaxRetries int

	HandshakeTimeout time.Duration
	// ActivityTimeout caps the idle period before a ping. The server's
	// value wins when lower.
	ActivityTimeout time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration

	// DefaultProvider authorises non-public channels subscribed without
	// their own provider.
	DefaultProvider auth.Provider

	Log     *logger.Logger
	Metrics *metric.Metrics
	Sink    Sink
}

// Engine owns one logical connection: it dials, completes the handshake,
// replays subscriptions, keeps the socket alive and reconnects with backoff
// until Disconnect.
type Engine struct {
	opts     Options
	log      *logger.Logger
	fsm      *FSM
	registry *Registry

	// lifeMu serialises Connect and Disconnect.
	lifeMu sync.Mutex

	mu       sync.Mutex
	gen      uint64 // bumped by Connect and Disconnect; stale run loops exit
	epoch    uint64 // bumped for every published connection
	conn     Conn
	socketID string
	cancel   context.CancelFunc
	lastErr  error

	sendMu       sync.Mutex
	lastActivity atomic.Int64

	cbMu      sync.Mutex
	onConnect []func(socketID string)
	onError   []func(error)
	onRetry   []func(attempt int, delay time.Duration)
}

// New creates an Engine in StateDisconnected.
func New(opts Options) *Engine {
	if opts.Dialer == nil {
		opts.Dialer = &WebSocketDialer{}
	}
	if opts.Backoff.Base <= 0 || opts.Backoff.Max <= 0 {
		def := DefaultBackoff()
		if opts.Backoff.Base <= 0 {
			opts.Backoff.Base = def.Base
		}
		if opts.Backoff.Max <= 0 {
			opts.Backoff.Max = def.Max
		}
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = constants.DefaultHandshakeTimeout
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = constants.DefaultActivityTimeout
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = constants.DefaultPongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = constants.DefaultWriteTimeout
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}

	e := &Engine{
		opts: opts,
		log:  opts.Log,
		fsm:  NewFSM(),
	}
	e.registry = newRegistry(e)

	e.opts.Metrics.SetState(StateDisconnected.String())
	e.fsm.OnTransition(func(t Transition) {
		e.opts.Metrics.SetState(t.To.String())
		e.log.Debug("Connection state changed", "from", t.From.String(), "state", t.To.String())
	})
	return e
}

// Registry returns the subscription registry.
func (e *Engine) Registry() *Registry { return e.registry }

// State returns the current connection state.
func (e *Engine) State() State { return e.fsm.State() }

// IsConnected reports whether the engine is in StateConnected.
func (e *Engine) IsConnected() bool { return e.fsm.State() == StateConnected }

// SocketID returns the id assigned by the last handshake, or
// errs.ErrNotConnected.
func (e *Engine) SocketID() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return "", errs.ErrNotConnected
	}
	return e.socketID, nil
}

// OnStateChange registers a hook for every accepted transition. Hooks run
// outside the engine's locks and may call back into it.
func (e *Engine) OnStateChange(h Hook) { e.fsm.OnTransition(h) }

// OnConnect registers a callback run after each handshake and replay.
func (e *Engine) OnConnect(fn func(socketID string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onConnect = append(e.onConnect, fn)
}

// OnError registers an error observer.
func (e *Engine) OnError(fn func(error)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onError = append(e.onError, fn)
}

// OnRetry registers a callback run when a reconnect is scheduled.
func (e *Engine) OnRetry(fn func(attempt int, delay time.Duration)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onRetry = append(e.onRetry, fn)
}

// Connect starts the connection loop. It is a no-op while Connecting,
// Connected or Reconnecting. The loop runs until Disconnect or until ctx is
// done, so ctx should outlive the connection.
func (e *Engine) Connect(ctx context.Context) error {
	if e.opts.URL == "" {
		return errs.Errorf(errs.KindConfig, "connect", "socket URL is empty")
	}

	e.lifeMu.Lock()
	switch e.fsm.State() {
	case StateConnecting, StateConnected, StateReconnecting:
		e.lifeMu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.cancel = cancel
	e.lastErr = nil
	e.mu.Unlock()

	if _, err := e.fsm.Transition(StateConnecting, nil, nil); err != nil {
		cancel()
		e.lifeMu.Unlock()
		return err
	}
	e.lifeMu.Unlock()
	e.fsm.Flush()

	go e.run(runCtx, gen)
	return nil
}

// Disconnect closes the socket with a normal closure, cancels any pending
// reconnect and moves to StateDisconnected. Subscriptions are kept for the
// next Connect. It does not wait for the connection loop to exit; the loop
// can no longer publish state or send frames.
func (e *Engine) Disconnect() {
	e.lifeMu.Lock()

	e.mu.Lock()
	e.gen++
	cancel := e.cancel
	conn := e.conn
	e.cancel = nil
	e.conn = nil
	e.socketID = ""
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(StatusNormalClosure, "client disconnect"); err != nil {
			e.log.Debug("Close after disconnect", "error", err)
		}
	}
	if e.fsm.State() != StateDisconnected {
		if _, err := e.fsm.Transition(StateDisconnected, nil, nil); err != nil {
			e.log.Warn("Disconnect transition rejected", "error", err)
		}
	}
	e.lifeMu.Unlock()
	e.fsm.Flush()

	e.log.Info("Disconnected")
}

// WaitConnected blocks until the engine is Connected, has Failed, or ctx is
// done. It returns errs.ErrNotConnected if the engine is Disconnected.
func (e *Engine) WaitConnected(ctx context.Context) error {
	for {
		changed := e.fsm.Changed()
		switch e.fsm.State() {
		case StateConnected:
			return nil
		case StateFailed:
			e.mu.Lock()
			err := e.lastErr
			e.mu.Unlock()
			if err == nil {
				err = errs.Errorf(errs.KindConnection, "connect", "connection failed")
			}
			return err
		case StateDisconnected:
			return errs.ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// current reports whether gen is still the live run generation.
func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen
}

// liveSession returns the published connection epoch and socket id.
func (e *Engine) liveSession() (uint64, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, e.socketID, e.conn != nil
}

func (e *Engine) run(ctx context.Context, gen uint64) {
	attempt := 0
	for {
		err := e.session(ctx, gen, &attempt)
		if ctx.Err() != nil || !e.current(gen) {
			return
		}
		if err == nil {
			err = errs.Errorf(errs.KindConnection, "read", "connection closed")
		}
		e.reportError(err)

		policy := policyBackoff
		var pe *ProtocolError
		var ce *CloseError
		switch {
		case errors.As(err, &pe):
			policy = policyForCode(pe.Code)
		case errors.As(err, &ce) && closesConnection(ce.Code):
			policy = policyForCode(ce.Code)
		}

		if policy == policyFatal {
			e.fail(gen, errs.E(errs.KindAuth, "connect", err))
			return
		}
		if e.opts.MaxRetries > 0 && attempt >= e.opts.MaxRetries {
			e.fail(gen, errs.E(errs.KindConnection, "connect",
				fmt.Errorf("giving up after %d attempts: %w", attempt, err)))
			return
		}

		delay := time.Duration(0)
		if policy == policyBackoff {
			delay = e.opts.Backoff.Delay(attempt)
		}
		if !e.transition(gen, StateReconnecting, err) {
			return
		}
		attempt++
		e.opts.Metrics.IncReconnect()
		e.log.Info("Reconnecting", "attempt", attempt, "delay", delay.String())
		e.fireRetry(attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !e.transition(gen, StateConnecting, nil) {
			return
		}
	}
}

// transition applies a run-loop transition unless gen is stale, clearing
// the published connection for every state but Connected.
func (e *Engine) transition(gen uint64, to State, cause error) bool {
	ok, err := e.fsm.Transition(to, cause, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen != gen {
			return false
		}
		e.conn = nil
		e.socketID = ""
		return true
	})
	if err != nil {
		e.log.Debug("Run loop transition rejected", "state", to.String(), "error", err)
	}
	e.fsm.Flush()
	return ok
}

func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	if e.gen == gen {
		e.lastErr = err
	}
	e.mu.Unlock()
	if e.transition(gen, StateFailed, err) {
		e.log.Error("Connection failed", "error", err)
	}
}

// session dials, performs the handshake, replays subscriptions and serves
// the connection until it breaks. A nil error with a stale gen means the
// session was superseded.
func (e *Engine) session(ctx context.Context, gen uint64, attempt *int) error {
	hctx, cancel := context.WithTimeout(ctx, e.opts.HandshakeTimeout)
	conn, err := e.opts.Dialer.Dial(hctx, e.opts.URL)
	if err != nil {
		cancel()
		return errs.E(errs.KindConnection, "dial", err)
	}
	est, err := e.handshake(hctx, conn)
	cancel()
	if err != nil {
		_ = conn.Close(StatusNormalClosure, "handshake failed")
		return err
	}

	var epoch uint64
	ok, err := e.fsm.Transition(StateConnected, nil, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen != gen {
			return false
		}
		e.epoch++
		epoch = e.epoch
		e.conn = conn
		e.socketID = est.SocketID
		e.lastErr = nil
		return true
	})
	if err != nil || !ok {
		_ = conn.Close(StatusNormalClosure, "superseded")
		return nil
	}
	*attempt = 0
	e.touch()
	e.fsm.Flush()

	activity := e.opts.ActivityTimeout
	if server := time.Duration(est.ActivityTimeout) * time.Second; server > 0 && server < activity {
		activity = server
	}
	e.log.Info("Connected", "socket_id", est.SocketID, "activity_timeout", activity.String())

	err = e.registry.replay(ctx, epoch, est.SocketID)
	if err == nil {
		e.fireConnect(est.SocketID)
		err = e.serve(ctx, conn, epoch, activity)
	}

	e.mu.Lock()
	if e.epoch == epoch && e.conn == conn {
		e.conn = nil
		e.socketID = ""
	}
	e.mu.Unlock()
	_ = conn.Close(StatusNormalClosure, "")
	return err
}

func (e *Engine) handshake(ctx context.Context, conn Conn) (ConnectionEstablished, error) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return ConnectionEstablished{}, errs.E(errs.KindConnection, "handshake", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return ConnectionEstablished{}, errs.E(errs.KindConnection, "handshake",
				fmt.Errorf("malformed frame: %w", err))
		}

		switch f.Event {
		case constants.EventConnectionEstablished:
			var est ConnectionEstablished
			if err := decodeData(f.Data, &est); err != nil {
				return ConnectionEstablished{}, errs.E(errs.KindConnection, "handshake",
					fmt.Errorf("decoding %s: %w", f.Event, err))
			}
			if est.SocketID == "" {
				return ConnectionEstablished{}, errs.Errorf(errs.KindConnection, "handshake", "empty socket id")
			}
			return est, nil
		case constants.EventError:
			return ConnectionEstablished{}, errs.E(errs.KindConnection, "handshake", protocolError(f.Data))
		default:
			e.log.Debug("Ignoring frame before handshake", "event", f.Event)
		}
	}
}

func (e *Engine) serve(ctx context.Context, conn Conn, epoch uint64, activity time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.readLoop(gctx, conn, epoch)
	})
	g.Go(func() error {
		return e.keepalive(gctx, epoch, activity)
	})
	return g.Wait()
}

func (e *Engine) readLoop(ctx context.Context, conn Conn, epoch uint64) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.E(errs.KindConnection, "read", err)
		}
		e.touch()
		e.opts.Metrics.IncFrame()

		if err := e.handleFrame(ctx, epoch, data); err != nil {
			return err
		}
	}
}

// keepalive pings after activity of silence and ends the session when
// nothing arrives within the pong timeout.
func (e *Engine) keepalive(ctx context.Context, epoch uint64, activity time.Duration) error {
	timer := time.NewTimer(activity)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		idle := time.Since(e.lastSeen())
		if idle < activity {
			timer.Reset(activity - idle)
			continue
		}

		pingAt := time.Now()
		if err := e.sendFrame(ctx, epoch, constants.EventPing, struct{}{}); err != nil {
			return err
		}
		e.log.Debug("Sent ping", "idle", idle.Round(time.Millisecond).String())

		timer.Reset(e.opts.PongTimeout)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if e.lastSeen().Before(pingAt) {
			return errs.Errorf(errs.KindConnection, "keepalive", "no activity within %s of ping", e.opts.PongTimeout)
		}
		timer.Reset(activity)
	}
}

func (e *Engine) handleFrame(ctx context.Context, epoch uint64, data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		e.log.Warn("Dropping malformed frame", "error", err)
		return nil
	}

	switch f.Event {
	case constants.EventPing:
		return e.sendFrame(ctx, epoch, constants.EventPong, struct{}{})

	case constants.EventPong:
		return nil

	case constants.EventError:
		pe := protocolError(f.Data)
		if closesConnection(pe.Code) {
			return errs.E(errs.KindConnection, "read", pe)
		}
		e.reportError(errs.E(errs.KindService, "read", pe))
		return nil

	case constants.EventConnectionEstablished:
		e.log.Debug("Ignoring repeated handshake frame")
		return nil

	case constants.EventInternalSubscriptionSucceeded:
		e.registry.setState(f.Channel, model.SubscriptionSucceeded)
		e.log.Info("Subscribed", "channel", f.Channel)
		e.dispatch(f, constants.EventSubscriptionSucceeded)

	case constants.EventSubscriptionError:
		e.registry.setState(f.Channel, model.SubscriptionFailed)
		e.reportError(errs.Errorf(errs.KindAuth, "subscribe",
			"subscription to %s rejected: %s", f.Channel, model.DataText(f.Data)))
		e.dispatch(f, f.Event)

	case constants.EventInternalMemberAdded:
		e.dispatch(f, constants.EventMemberAdded)

	case constants.EventInternalMemberRemoved:
		e.dispatch(f, constants.EventMemberRemoved)

	default:
		e.dispatch(f, f.Event)
	}
	return nil
}

func (e *Engine) dispatch(f Frame, name string) {
	if e.opts.Sink == nil {
		return
	}
	e.opts.Sink.Dispatch(model.Event{
		Event:   name,
		Channel: f.Channel,
		Data:    model.DataText(f.Data),
		UserID:  f.UserID,
	})
}

// sendFrame writes one frame on the connection published for epoch.
func (e *Engine) sendFrame(ctx context.Context, epoch uint64, event string, data any) error {
	payload, err := encodeFrame(event, data)
	if err != nil {
		return errs.E(errs.KindValidation, "send", err)
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	conn := e.conn
	live := e.epoch
	e.mu.Unlock()
	if conn == nil || live != epoch {
		return errs.ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, payload); err != nil {
		return errs.E(errs.KindConnection, "send", fmt.Errorf("writing %s: %w", event, err))
	}
	return nil
}

func (e *Engine) touch() {
	e.lastActivity.Store(time.Now().UnixNano())
}

func (e *Engine) lastSeen() time.Time {
	return time.Unix(0, e.lastActivity.Load())
}

func (e *Engine) reportError(err error) {
	kind := errs.KindOf(err)
	e.opts.Metrics.IncError(kind.String())
	e.log.Warn("Connection error", "kind", kind.String(), "error", err)

	e.cbMu.Lock()
	fns := slices.Clone(e.onError)
	e.cbMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (e *Engine) fireConnect(socketID string) {
	e.cbMu.Lock()
	fns := slices.Clone(e.onConnect)
	e.cbMu.Unlock()
	for _, fn := range fns {
		fn(socketID)
	}
}

func (e *Engine) fireRetry(attempt int, delay time.Duration) {
	e.cbMu.Lock()
	fns := slices.Clone(e.onRetry)
	e.cbMu.Unlock()
	for _, fn := range fns {
		fn(attempt, delay)
	}
}

func protocolError(raw json.RawMessage) *ProtocolError {
	var ed ErrorData
	if err := decodeData(raw, &ed); err != nil {
		return &ProtocolError{Message: model.DataText(raw)}
	}
	pe := &ProtocolError{Message: ed.Message}
	if ed.Code != nil {
		pe.Code = *ed.Code
	}
	return pe
}
