// Package realtime implements the client side of the portal's push
// channel: one authenticated websocket per session, logical channel
// subscriptions multiplexed on top of it, and decoding of pushed events
// into typed variants at the subscription boundary.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetdesk/portal/src/models"
)

// Kind identifies a logical channel family
type Kind string

const (
	// One channel per user, carrying notification events
	KindNotifications Kind = "notifications"
	// One channel per conversation peer, carrying message events
	KindConversation Kind = "conversation"
)

// ChannelName returns the wire name of a logical channel.
func ChannelName(kind Kind, key string) string {
	return string(kind) + ":" + key
}

// Frame is the envelope of every websocket message, both directions.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame types
const (
	// Client -> server
	FrameAuth        = "auth"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePong        = "pong"

	// Server -> client
	FrameAuthOK               = "auth_ok"
	FrameAuthRejected         = "auth_rejected"
	FrameSubscribed           = "subscribed"
	FrameSubscriptionRejected = "subscription_rejected"
	FrameNotification         = "notification"
	FrameMessage              = "message"
	FramePresence             = "presence"
	FramePing                 = "ping"
)

// authPayload is the payload of an auth frame.
type authPayload struct {
	Token string `json:"token"`
}

// authOKPayload is the payload of an auth_ok frame.
type authOKPayload struct {
	UserID string `json:"user_id"`
}

// rejectPayload is the payload of auth_rejected and
// subscription_rejected frames.
type rejectPayload struct {
	Reason string `json:"reason"`
}

// Event is the closed set of pushed events a subscription can deliver.
// Frames are decoded exactly once, at the registry boundary, so stores
// never see raw JSON or switch on type strings.
type Event interface {
	event()
}

// NotificationEvent carries one full notification object.
type NotificationEvent struct {
	Notification models.Notification
}

// MessageEvent carries one full message plus the display fields needed
// to create a conversation entry for a previously unseen peer.
type MessageEvent struct {
	Message    models.Message
	PeerName   string `json:"peer_name,omitempty"`
	PeerAvatar string `json:"peer_avatar,omitempty"`
}

// PresenceEvent carries a heartbeat or availability change for a peer.
type PresenceEvent struct {
	PeerID string                `json:"peer_id"`
	Status models.PresenceStatus `json:"status"`
	At     time.Time             `json:"at"`
}

func (NotificationEvent) event() {}
func (MessageEvent) event()      {}
func (PresenceEvent) event()     {}

// messageEventPayload is the wire shape of a message frame payload.
type messageEventPayload struct {
	models.Message
	PeerName   string `json:"peer_name,omitempty"`
	PeerAvatar string `json:"peer_avatar,omitempty"`
}

// DecodeEvent converts a pushed frame into its typed variant. Frames
// that are not events (acks, pings) and frames with malformed payloads
// return an error; the caller logs and drops them rather than letting a
// bad event corrupt store state.
func DecodeEvent(f *Frame) (Event, error) {
	switch f.Type {
	case FrameNotification:
		var n models.Notification
		if err := json.Unmarshal(f.Payload, &n); err != nil {
			return nil, fmt.Errorf("malformed notification event: %w", err)
		}
		if n.ID == "" {
			return nil, fmt.Errorf("notification event missing id")
		}
		return NotificationEvent{Notification: n}, nil

	case FrameMessage:
		var p messageEventPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed message event: %w", err)
		}
		if p.Message.ID == "" {
			return nil, fmt.Errorf("message event missing id")
		}
		return MessageEvent{Message: p.Message, PeerName: p.PeerName, PeerAvatar: p.PeerAvatar}, nil

	case FramePresence:
		var p PresenceEvent
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("malformed presence event: %w", err)
		}
		if p.PeerID == "" {
			return nil, fmt.Errorf("presence event missing peer id")
		}
		return p, nil
	}

	return nil, fmt.Errorf("unknown event type %q", f.Type)
}
