// Package dispatch routes inbound events to bound handlers, decrypting
// payloads on private-encrypted channels first.
package dispatch

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Guliveer/pusher-go/internal/channelcrypto"
	"github.com/Guliveer/pusher-go/internal/errs"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/metric"
	"github.com/Guliveer/pusher-go/internal/model"
)

// Handler handles one event.
type Handler interface {
	HandleEvent(ev model.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev model.Event)

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev model.Event) { f(ev) }

// Binding identifies one registered handler so it can be removed.
type Binding struct {
	channel string
	event   string
	handler Handler
}

// Channel returns the bound channel, "" for a global binding.
func (b *Binding) Channel() string { return b.channel }

// Event returns the bound event name.
func (b *Binding) Event() string { return b.event }

type bindingKey struct {
	channel string
	event   string
}

// Options configures a Dispatcher.
type Options struct {
	// Crypto decrypts private-encrypted payloads. Without it such events
	// are dropped with a decryption error.
	Crypto  *channelcrypto.Crypto
	Log     *logger.Logger
	Metrics *metric.Metrics
}

// Dispatcher fans events out to handlers bound by (channel, event).
// Handlers for the event's channel run before global handlers, exact event
// matches before catch-all bindings, each list in registration order. No lock is held while handlers run, so handlers
// may bind and unbind.
type Dispatcher struct {
	crypto  *channelcrypto.Crypto
	log     *logger.Logger
	metrics *metric.Metrics

	mu       sync.RWMutex
	bindings map[bindingKey][]*Binding

	errMu   sync.Mutex
	onError []func(error)
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		crypto:   opts.Crypto,
		log:      log,
		metrics:  opts.Metrics,
		bindings: make(map[bindingKey][]*Binding),
	}
}

// Bind registers h for event on channel. An empty channel binds the event
// on every channel; an empty event binds every event on the channel.
func (d *Dispatcher) Bind(channel, event string, h Handler) *Binding {
	b := &Binding{channel: channel, event: event, handler: h}
	k := bindingKey{channel: channel, event: event}

	d.mu.Lock()
	d.bindings[k] = append(d.bindings[k], b)
	d.mu.Unlock()
	return b
}

// Unbind removes b from (channel, event), or every binding for the pair
// when b is nil.
func (d *Dispatcher) Unbind(channel, event string, b *Binding) {
	k := bindingKey{channel: channel, event: event}

	d.mu.Lock()
	defer d.mu.Unlock()

	if b == nil {
		delete(d.bindings, k)
		return
	}
	list := d.bindings[k]
	for i, existing := range list {
		if existing == b {
			// Copy so a dispatch in flight keeps its own view.
			next := make([]*Binding, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(d.bindings, k)
			} else {
				d.bindings[k] = next
			}
			return
		}
	}
}

// OnError registers an observer for events dropped during dispatch.
func (d *Dispatcher) OnError(fn func(error)) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	d.onError = append(d.onError, fn)
}

// Dispatch delivers ev to its handlers. A payload that fails to decrypt
// drops the event and is reported to error observers.
func (d *Dispatcher) Dispatch(ev model.Event) {
	kind := model.KindOf(ev.Channel)

	if ev.Channel != "" && kind == model.ChannelPrivateEncrypted && !ev.IsProtocol() {
		plain, err := d.decrypt(ev)
		if err != nil {
			d.metrics.IncDropped("decryption")
			d.log.Warn("Dropping undecryptable event", "channel", ev.Channel, "event", ev.Event, "error", err)
			d.reportError(err)
			return
		}
		ev.Data = string(plain)
	}

	handlers := d.handlers(ev.Channel, ev.Event)
	d.metrics.IncEvent(kind.String())
	if len(handlers) == 0 {
		d.log.Debug("No handlers for event", "channel", ev.Channel, "event", ev.Event)
		return
	}
	for _, h := range handlers {
		h.HandleEvent(ev)
	}
}

func (d *Dispatcher) handlers(channel, event string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]bindingKey, 0, 4)
	for _, ch := range []string{channel, ""} {
		keys = append(keys, bindingKey{channel: ch, event: event})
		if event != "" {
			keys = append(keys, bindingKey{channel: ch})
		}
		if channel == "" {
			break
		}
	}

	var out []Handler
	for _, k := range keys {
		for _, b := range d.bindings[k] {
			out = append(out, b.handler)
		}
	}
	return out
}

func (d *Dispatcher) decrypt(ev model.Event) ([]byte, error) {
	if d.crypto == nil {
		return nil, errs.Errorf(errs.KindDecryption, "dispatch",
			"no encryption master key for channel %s", ev.Channel)
	}
	plain, err := d.crypto.DecryptString(ev.Channel, ev.Data)
	if err != nil {
		return nil, fmt.Errorf("event %s on %s: %w", ev.Event, ev.Channel, err)
	}
	return plain, nil
}

func (d *Dispatcher) reportError(err error) {
	d.metrics.IncError(errs.KindOf(err).String())

	d.errMu.Lock()
	fns := slices.Clone(d.onError)
	d.errMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
