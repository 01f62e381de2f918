// Package constants defines service endpoints, protocol event names, channel
// prefixes, payload limits, and default timeout/interval values used
// throughout the client.
package constants

import "time"

const (
	// ClientName is reported to the service in the socket URL.
	ClientName = "pusher-go"
	// ClientVersion is reported to the service in the socket URL.
	ClientVersion = "0.4.0"
	// ProtocolVersion is the socket protocol revision this client speaks.
	ProtocolVersion = 7
	// AuthVersion is the request-signing scheme version for trigger calls.
	AuthVersion = "1.0"
)

const (
	// DefaultCluster is used when the configuration does not name one.
	DefaultCluster = "mt1"
	// SocketHostFormat is the socket host for a cluster.
	SocketHostFormat = "ws-%s.pusher.com"
	// APIHostFormat is the HTTP API host for a cluster.
	APIHostFormat = "api-%s.pusher.com"
)

// Socket protocol events.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionError     = "pusher:subscription_error"

	// EventSubscriptionSucceeded is the public name of the internal
	// subscription acknowledgement, as delivered to bindings.
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"

	EventInternalSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventInternalMemberAdded           = "pusher_internal:member_added"
	EventInternalMemberRemoved         = "pusher_internal:member_removed"

	EventMemberAdded   = "pusher:member_added"
	EventMemberRemoved = "pusher:member_removed"

	// ProtocolEventPrefix marks events produced by the service itself.
	ProtocolEventPrefix = "pusher:"
	// InternalEventPrefix marks service events that are translated before dispatch.
	InternalEventPrefix = "pusher_internal:"
)

// Channel name prefixes. Order of checks matters: the encrypted prefix also
// starts with the private prefix.
const (
	PrefixPrivateEncrypted = "private-encrypted-"
	PrefixPrivate          = "private-"
	PrefixPresence         = "presence-"
)

// Error code ranges carried by pusher:error events and socket close frames.
const (
	ErrorCodeFatalMin        = 4000
	ErrorCodeFatalMax        = 4099
	ErrorCodeReconnectMin    = 4100
	ErrorCodeReconnectMax    = 4199
	ErrorCodeReconnectNowMin = 4200
	ErrorCodeReconnectNowMax = 4299
)

const (
	// MaxChannelNameLength is the longest channel name accepted by the service.
	MaxChannelNameLength = 164
	// MaxEventNameLength is the longest event name accepted by the service.
	MaxEventNameLength = 200
	// MaxEventDataSize is the largest data payload accepted per event.
	MaxEventDataSize = 10 * 1024
	// MaxBatchSize is the largest number of events in one batch trigger.
	MaxBatchSize = 10
	// BatchWorkers bounds concurrent batch requests when a large event list
	// is split into several batches.
	BatchWorkers = 4
	// MaxTriggerChannels is the largest number of channels in one trigger.
	MaxTriggerChannels = 100
	// SocketReadLimit bounds a single inbound frame.
	SocketReadLimit = 256 << 10
)

const (
	// DefaultReconnectBaseDelay is the first backoff step.
	DefaultReconnectBaseDelay = 1 * time.Second
	// DefaultReconnectMaxDelay caps the backoff.
	DefaultReconnectMaxDelay = 30 * time.Second
	// ReconnectJitterFraction is the largest jitter added to a backoff step.
	ReconnectJitterFraction = 0.2

	// DefaultHandshakeTimeout bounds dial + connection_established.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultActivityTimeout is the idle period before the client pings.
	// The server may lower it in connection_established.
	DefaultActivityTimeout = 120 * time.Second
	// DefaultPongTimeout is how long a ping may go unanswered.
	DefaultPongTimeout = 30 * time.Second
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultHTTPTimeout is the timeout for trigger and auth endpoint requests.
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultGracefulShutdownTimeout bounds the health server shutdown.
	DefaultGracefulShutdownTimeout = 5 * time.Second
)
