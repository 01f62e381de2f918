package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Guliveer/pusher-go/internal/auth"
	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/model"
)

type entry struct {
	name     string
	kind     model.ChannelKind
	provider auth.Provider

	// preAuthorized entries carry caller-supplied credentials that are
	// sent as-is on every attempt.
	preAuthorized bool
	auth          string
	channelData   string

	state model.SubscriptionState
	// sentEpoch is the connection epoch the entry was last sent on.
	sentEpoch uint64
}

func (en *entry) snapshot() model.Subscription {
	return model.Subscription{
		Name:        en.name,
		Kind:        en.kind,
		Auth:        en.auth,
		ChannelData: en.channelData,
		State:       en.state,
		StateName:   en.state.String(),
	}
}

// Registry is the ordered set of channels the client intends to be
// subscribed to. Entries survive reconnects and Disconnect; only
// Unsubscribe removes them.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry

	engine *Engine
}

func newRegistry(e *Engine) *Registry {
	return &Registry{entries: make(map[string]*entry), engine: e}
}

// Subscribe registers name, or updates it in place keeping its position.
// Credentials for non-public channels come from provider, or from the
// engine's default provider when provider is nil. When connected the
// subscribe frame is sent before Subscribe returns.
func (r *Registry) Subscribe(ctx context.Context, name string, provider auth.Provider) error {
	if err := model.ValidateChannelName(name); err != nil {
		return err
	}
	r.upsert(name, func(en *entry) {
		en.provider = provider
		en.preAuthorized = false
		en.auth = ""
		en.channelData = ""
	})
	return r.sendIfConnected(ctx, name)
}

// SubscribeWithAuth registers name with pre-computed credentials, bypassing
// signature generation.
func (r *Registry) SubscribeWithAuth(ctx context.Context, name, authString, channelData string) error {
	if err := model.ValidateChannelName(name); err != nil {
		return err
	}
	if model.KindOf(name).RequiresAuth() && authString == "" {
		return errs.Errorf(errs.KindValidation, "subscribe", "channel %s requires an auth string", name)
	}
	r.upsert(name, func(en *entry) {
		en.provider = nil
		en.preAuthorized = true
		en.auth = authString
		en.channelData = channelData
	})
	return r.sendIfConnected(ctx, name)
}

// Unsubscribe removes name and, when connected, sends pusher:unsubscribe.
// Unknown names are a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, name string) error {
	r.mu.Lock()
	if _, ok := r.entries[name]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.engine.opts.Metrics.SetSubscriptions(len(r.order))
	r.mu.Unlock()
	r.engine.log.Info("Unsubscribed", "channel", name)

	epoch, _, ok := r.engine.liveSession()
	if !ok {
		return nil
	}
	err := r.engine.sendFrame(ctx, epoch, constants.EventUnsubscribe, UnsubscribeData{Channel: name})
	if errors.Is(err, errs.ErrNotConnected) {
		return nil
	}
	return err
}

// Channels returns the registered channel names in registration order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a snapshot of one entry.
func (r *Registry) Get(name string) (model.Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	en, ok := r.entries[name]
	if !ok {
		return model.Subscription{}, false
	}
	return en.snapshot(), true
}

// Snapshot returns every entry in registration order.
func (r *Registry) Snapshot() []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Subscription, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].snapshot())
	}
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) upsert(name string, apply func(*entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	en, ok := r.entries[name]
	if !ok {
		en = &entry{name: name, kind: model.KindOf(name)}
		r.entries[name] = en
		r.order = append(r.order, name)
		r.engine.opts.Metrics.SetSubscriptions(len(r.order))
	}
	apply(en)
	en.state = model.SubscriptionPending
	en.sentEpoch = 0
}

func (r *Registry) setState(name string, state model.SubscriptionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if en, ok := r.entries[name]; ok {
		en.state = state
	}
}

func (r *Registry) sendIfConnected(ctx context.Context, name string) error {
	epoch, socketID, ok := r.engine.liveSession()
	if !ok {
		return nil
	}
	err := r.send(ctx, epoch, socketID, name)
	if errors.Is(err, errs.ErrNotConnected) {
		// The connection dropped mid-call; replay will send it.
		return nil
	}
	return err
}

// replay sends every entry on a fresh connection, in registration order.
// Credential failures are reported and skipped; a send failure stops the
// replay since the connection is gone.
func (r *Registry) replay(ctx context.Context, epoch uint64, socketID string) error {
	r.mu.Lock()
	for _, en := range r.entries {
		en.state = model.SubscriptionPending
	}
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.Unlock()

	for _, name := range names {
		err := r.send(ctx, epoch, socketID, name)
		if err == nil {
			continue
		}
		if errs.Is(err, errs.KindConnection) {
			return err
		}
		r.engine.reportError(err)
	}
	return nil
}

// send emits one subscribe frame unless the entry was already sent on this
// connection epoch.
func (r *Registry) send(ctx context.Context, epoch uint64, socketID, name string) error {
	r.mu.Lock()
	en, ok := r.entries[name]
	if !ok || en.sentEpoch == epoch {
		r.mu.Unlock()
		return nil
	}
	en.sentEpoch = epoch
	data := SubscribeData{Channel: name}
	kind := en.kind
	provider := en.provider
	if en.preAuthorized {
		data.Auth = en.auth
		data.ChannelData = en.channelData
	}
	preAuthorized := en.preAuthorized
	r.mu.Unlock()

	if kind.RequiresAuth() && !preAuthorized {
		creds, err := r.authorize(ctx, provider, socketID, name)
		if err != nil {
			r.setState(name, model.SubscriptionFailed)
			return err
		}
		data.Auth = creds.Auth
		data.ChannelData = creds.ChannelData
	}

	if err := r.engine.sendFrame(ctx, epoch, constants.EventSubscribe, data); err != nil {
		r.mu.Lock()
		if en, ok := r.entries[name]; ok && en.sentEpoch == epoch {
			en.sentEpoch = 0
		}
		r.mu.Unlock()
		return err
	}

	r.engine.log.Debug("Subscribe sent", "channel", name, "kind", kind.String())
	return nil
}

func (r *Registry) authorize(ctx context.Context, provider auth.Provider, socketID, name string) (auth.Credentials, error) {
	if provider == nil {
		provider = r.engine.opts.DefaultProvider
	}
	if provider == nil {
		return auth.Credentials{}, errs.Errorf(errs.KindAuth, "subscribe", "no auth provider for channel %s", name)
	}
	creds, err := provider.Authorize(ctx, socketID, name)
	if err != nil {
		// A provider failure belongs to this channel only; a connection
		// kind here would abort the replay and drop the socket.
		if !errs.Is(err, errs.KindAuth) {
			err = errs.E(errs.KindAuth, "subscribe", err)
		}
		return auth.Credentials{}, fmt.Errorf("authorizing %s: %w", name, err)
	}
	return creds, nil
}
