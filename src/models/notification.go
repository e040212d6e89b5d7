package models

import (
	"time"
)

// SourceKind tags what produced a notification
type SourceKind string

const (
	// A direct message from another portal user
	SourceKindMessage SourceKind = "message"
	// A content change (blog post, order status, appointment)
	SourceKindContent SourceKind = "content"
	// Anything else
	SourceKindOther SourceKind = "other"
)

// Notification represents one entry in the user's notification center.
// The ID is assigned server-side and is stable across the REST snapshot
// and the push channel, which is what makes dedup-by-id possible.
type Notification struct {
	ID         string     `json:"id"`                  // ULID assigned by the server
	Title      string     `json:"title"`               // Notification title
	Message    string     `json:"message"`             // Notification body
	Link       string     `json:"link,omitempty"`      // Optional navigation target
	Read       bool       `json:"read"`                // Whether read
	SourceKind SourceKind `json:"source_kind"`         // message, content, other
	SourceID   string     `json:"source_id,omitempty"` // Id of the originating entity
	CreatedAt  time.Time  `json:"created_at"`          // When created (server clock)
}
