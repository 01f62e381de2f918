// Package pusher is the client facade: one persistent connection with its
// subscriptions and event bindings, plus the signed HTTP trigger API, all
// built from a single validated configuration.
package pusher

import (
	"context"
	"net/http"

	"github.com/Guliveer/pusher-go/internal/auth"
	"github.com/Guliveer/pusher-go/internal/channelcrypto"
	"github.com/Guliveer/pusher-go/internal/config"
	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/dispatch"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/metric"
	"github.com/Guliveer/pusher-go/internal/model"
	"github.com/Guliveer/pusher-go/internal/server"
	"github.com/Guliveer/pusher-go/internal/socket"
	"github.com/Guliveer/pusher-go/internal/trigger"
)

// Options are the runtime dependencies that do not belong in Config.
type Options struct {
	// Dialer replaces the WebSocket dialer.
	Dialer socket.Dialer
	// HTTPClient is used for trigger and auth endpoint requests.
	HTTPClient *http.Client
	// AuthProvider replaces the provider derived from Config.
	AuthProvider auth.Provider
	Metrics      *metric.Metrics
}

// Client is safe for concurrent use.
type Client struct {
	cfg config.Config
	log *logger.Logger

	engine     *socket.Engine
	dispatcher *dispatch.Dispatcher
	trigger    *trigger.Client
}

// New validates cfg and builds a Client. cfg is copied; later changes to
// it have no effect.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{cfg: *cfg, log: log}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.cfg.HTTPTimeout}
	}

	signer := auth.NewSigner(c.cfg.Key, c.cfg.Secret)
	crypto := channelcrypto.New(auth.NewSigner(c.cfg.Key, c.cfg.EncryptionSecret()))

	provider := opts.AuthProvider
	if provider == nil {
		provider = c.defaultProvider(signer, httpClient)
	}

	c.dispatcher = dispatch.New(dispatch.Options{
		Crypto:  crypto,
		Log:     log.WithComponent("dispatch"),
		Metrics: opts.Metrics,
	})

	c.engine = socket.New(socket.Options{
		URL:    c.cfg.SocketURL(),
		Dialer: opts.Dialer,
		Backoff: socket.Backoff{
			Base:   c.cfg.Reconnect.BaseDelay,
			Max:    c.cfg.Reconnect.MaxDelay,
			Jitter: constants.ReconnectJitterFraction,
		},
		MaxRetries:       c.cfg.Reconnect.MaxRetries,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		ActivityTimeout:  c.cfg.ActivityTimeout,
		PongTimeout:      c.cfg.PongTimeout,
		DefaultProvider:  provider,
		Log:              log.WithComponent("socket"),
		Metrics:          opts.Metrics,
		Sink:             c.dispatcher,
	})

	tc, err := trigger.New(trigger.Options{
		AppID:             c.cfg.AppID,
		BaseURL:           c.cfg.APIBaseURL(),
		Signer:            signer,
		Crypto:            crypto,
		HTTPClient:        httpClient,
		RequestsPerSecond: c.cfg.RequestsPerSecond,
		Log:               log.WithComponent("trigger"),
		Metrics:           opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	c.trigger = tc

	return c, nil
}

func (c *Client) defaultProvider(signer *auth.Signer, httpClient *http.Client) auth.Provider {
	if c.cfg.AuthEndpoint != "" {
		return auth.NewEndpointProvider(c.cfg.AuthEndpoint, c.cfg.AuthHeaders, c.log.WithComponent("auth")).
			WithHTTPClient(httpClient)
	}
	return &auth.LocalProvider{Signer: signer, User: c.cfg.Presence}
}

// Config returns a copy of the validated configuration.
func (c *Client) Config() config.Config { return c.cfg }

// Connect starts connecting in the background. See socket.Engine.Connect.
func (c *Client) Connect(ctx context.Context) error {
	return c.engine.Connect(ctx)
}

// ConnectAndWait connects and blocks until the first handshake completes,
// the connection fails, or waitCtx is done. The connection itself lives
// until Disconnect or until runCtx is done.
func (c *Client) ConnectAndWait(runCtx, waitCtx context.Context) error {
	if err := c.engine.Connect(runCtx); err != nil {
		return err
	}
	return c.engine.WaitConnected(waitCtx)
}

// WaitConnected blocks until the client is connected or has failed.
func (c *Client) WaitConnected(ctx context.Context) error {
	return c.engine.WaitConnected(ctx)
}

// Disconnect closes the connection. Subscriptions and bindings are kept.
func (c *Client) Disconnect() {
	c.engine.Disconnect()
}

// Subscribe subscribes to channel, authorising non-public channels with
// the configured provider.
func (c *Client) Subscribe(ctx context.Context, channel string) error {
	return c.engine.Registry().Subscribe(ctx, channel, nil)
}

// SubscribeWithProvider subscribes to channel using provider for its
// credentials.
func (c *Client) SubscribeWithProvider(ctx context.Context, channel string, provider auth.Provider) error {
	return c.engine.Registry().Subscribe(ctx, channel, provider)
}

// SubscribeWithAuth subscribes with credentials obtained elsewhere.
func (c *Client) SubscribeWithAuth(ctx context.Context, channel, authString, channelData string) error {
	return c.engine.Registry().SubscribeWithAuth(ctx, channel, authString, channelData)
}

// Unsubscribe removes channel.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	return c.engine.Registry().Unsubscribe(ctx, channel)
}

// SubscribedChannels returns the registered channel names in order.
func (c *Client) SubscribedChannels() []string {
	return c.engine.Registry().Channels()
}

// Subscriptions returns a snapshot of every registered subscription.
func (c *Client) Subscriptions() []model.Subscription {
	return c.engine.Registry().Snapshot()
}

// Bind registers h for event on channel; an empty channel matches all.
func (c *Client) Bind(channel, event string, h dispatch.Handler) *dispatch.Binding {
	return c.dispatcher.Bind(channel, event, h)
}

// BindFunc is Bind for a plain function.
func (c *Client) BindFunc(channel, event string, fn func(model.Event)) *dispatch.Binding {
	return c.dispatcher.Bind(channel, event, dispatch.HandlerFunc(fn))
}

// Unbind removes b, or every binding for (channel, event) when b is nil.
func (c *Client) Unbind(channel, event string, b *dispatch.Binding) {
	c.dispatcher.Unbind(channel, event, b)
}

// Trigger publishes one event, encrypting data on private-encrypted
// channels.
func (c *Client) Trigger(ctx context.Context, channel, event, data string, params *trigger.Params) error {
	return c.trigger.Trigger(ctx, channel, event, data, params)
}

// TriggerMulti publishes one event on several channels.
func (c *Client) TriggerMulti(ctx context.Context, channels []string, event, data string, params *trigger.Params) error {
	return c.trigger.TriggerMulti(ctx, channels, event, data, params)
}

// TriggerBatch publishes up to 10 events in one request.
func (c *Client) TriggerBatch(ctx context.Context, events []model.BatchEvent) error {
	return c.trigger.TriggerBatch(ctx, events)
}

// TriggerBatches publishes any number of events, split into concurrent
// batch requests.
func (c *Client) TriggerBatches(ctx context.Context, events []model.BatchEvent) error {
	return c.trigger.TriggerBatches(ctx, events)
}

// SocketID returns the current socket id or errs.ErrNotConnected.
func (c *Client) SocketID() (string, error) {
	return c.engine.SocketID()
}

// State returns the connection state.
func (c *Client) State() socket.State {
	return c.engine.State()
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.engine.IsConnected()
}

// OnConnect registers fn to run after every (re)connection, once the
// subscriptions have been replayed.
func (c *Client) OnConnect(fn func(socketID string)) {
	c.engine.OnConnect(fn)
}

// OnDisconnect registers fn to run when the client enters Disconnected.
func (c *Client) OnDisconnect(fn func()) {
	c.engine.OnStateChange(func(t socket.Transition) {
		if t.To == socket.StateDisconnected {
			fn()
		}
	})
}

// OnStateChange registers fn for every connection state transition.
func (c *Client) OnStateChange(fn func(socket.Transition)) {
	c.engine.OnStateChange(fn)
}

// OnError registers fn for errors raised outside direct calls: connection
// failures, rejected subscriptions and undecryptable events.
func (c *Client) OnError(fn func(error)) {
	c.engine.OnError(fn)
	c.dispatcher.OnError(fn)
}

// Status reports the client for the health server.
func (c *Client) Status() server.Status {
	st := server.Status{
		State:     c.engine.State().String(),
		Connected: c.engine.IsConnected(),
		Channels:  c.engine.Registry().Snapshot(),
	}
	if id, err := c.engine.SocketID(); err == nil {
		st.SocketID = id
	}
	return st
}
