package models

import (
	"time"
)

// Message represents one direct message between the current user and a peer.
//
// Pending and Failed are client-side only: a message the user just sent
// exists as a provisional entry (temporary id, Pending=true) until the
// server confirms it and the entry is swapped for the canonical one. A
// failed send keeps the entry with Failed=true so it is never silently
// dropped.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`

	Pending bool `json:"-"`
	Failed  bool `json:"-"`
}

// PeerOf returns the id of the other party of the message, given the
// current user's id.
func (m *Message) PeerOf(currentUser string) string {
	if m.SenderID == currentUser {
		return m.ReceiverID
	}
	return m.SenderID
}

// Conversation is the per-peer index entry: preview of the last message
// plus the number of unread messages from that peer.
type Conversation struct {
	PeerID        string     `json:"peer_id"`
	PeerName      string     `json:"peer_name"`
	PeerAvatar    string     `json:"peer_avatar,omitempty"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
}
