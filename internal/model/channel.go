package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/errs"
)

// ChannelKind identifies the access model of a channel.
type ChannelKind int

const (
	// ChannelPublic needs no authentication.
	ChannelPublic ChannelKind = iota
	// ChannelPrivate needs a signed auth string.
	ChannelPrivate
	// ChannelPresence needs a signed auth string over member channel data.
	ChannelPresence
	// ChannelPrivateEncrypted is private with end-to-end encrypted payloads.
	ChannelPrivateEncrypted
)

var channelKindNames = map[ChannelKind]string{
	ChannelPublic:           "public",
	ChannelPrivate:          "private",
	ChannelPresence:         "presence",
	ChannelPrivateEncrypted: "private-encrypted",
}

// String returns the name of the kind.
func (k ChannelKind) String() string {
	if name, ok := channelKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RequiresAuth reports whether subscribing needs a signed auth string.
func (k ChannelKind) RequiresAuth() bool {
	return k != ChannelPublic
}

// KindOf derives the channel kind from its name prefix.
func KindOf(name string) ChannelKind {
	switch {
	case strings.HasPrefix(name, constants.PrefixPrivateEncrypted):
		return ChannelPrivateEncrypted
	case strings.HasPrefix(name, constants.PrefixPrivate):
		return ChannelPrivate
	case strings.HasPrefix(name, constants.PrefixPresence):
		return ChannelPresence
	default:
		return ChannelPublic
	}
}

var channelNamePattern = regexp.MustCompile(`^[-a-zA-Z0-9_=@,.;]+$`)

// ValidateChannelName rejects names the service would refuse.
func ValidateChannelName(name string) error {
	if name == "" {
		return errs.Errorf(errs.KindValidation, "channel", "channel name is empty")
	}
	if len(name) > constants.MaxChannelNameLength {
		return errs.Errorf(errs.KindValidation, "channel",
			"channel name %q exceeds %d characters", name, constants.MaxChannelNameLength)
	}
	if !channelNamePattern.MatchString(name) {
		return errs.Errorf(errs.KindValidation, "channel", "channel name %q contains invalid characters", name)
	}
	return nil
}

// SubscriptionState tracks the server's answer to a subscribe frame.
type SubscriptionState int

const (
	// SubscriptionPending means a subscribe frame is queued or awaiting acknowledgement.
	SubscriptionPending SubscriptionState = iota
	// SubscriptionSucceeded means the server acknowledged the subscription.
	SubscriptionSucceeded
	// SubscriptionFailed means the server or the auth provider rejected it.
	SubscriptionFailed
)

// String returns the name of the state.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionPending:
		return "pending"
	case SubscriptionSucceeded:
		return "subscribed"
	case SubscriptionFailed:
		return "failed"
	default:
		return fmt.Sprintf("SubscriptionState(%d)", int(s))
	}
}

// Subscription is a snapshot of one registry entry. Auth and ChannelData are
// set only for entries registered with pre-computed credentials.
type Subscription struct {
	Name        string            `json:"name"`
	Kind        ChannelKind       `json:"-"`
	Auth        string            `json:"-"`
	ChannelData string            `json:"-"`
	State       SubscriptionState `json:"-"`
	StateName   string            `json:"state"`
}

// PresenceUser identifies the local member on presence channels.
type PresenceUser struct {
	UserID   string         `json:"user_id" yaml:"user_id"`
	UserInfo map[string]any `json:"user_info,omitempty" yaml:"user_info,omitempty"`
}
