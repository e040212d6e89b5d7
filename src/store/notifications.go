// Package store holds the client-side state the views render from:
// notifications, conversations and presence, merged from REST snapshots
// and push events into one consistent picture.
//
// Mutations arrive from two goroutines (the realtime read pump and the
// CLI/TUI), so every store is mutex-guarded. Push and snapshot arrival
// order is not guaranteed, which is why every ingestion path dedups by
// id and final order is always recomputed from created_at.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fleetdesk/portal/src/metrics"
	"github.com/fleetdesk/portal/src/models"
)

// FetchError wraps a failed snapshot fetch or a failed server
// confirmation. The store's previous state is always left intact.
type FetchError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NotificationAPI is the slice of the REST client the store needs.
type NotificationAPI interface {
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// NotificationStore merges the notification snapshot and pushed
// notification events into one deduplicated collection ordered by
// created_at descending (ties: the newest arrival first). The unread
// counter is always equal to the number of entries with read=false.
type NotificationStore struct {
	api NotificationAPI

	mu      sync.RWMutex
	byID    map[string]*models.Notification
	ordered []*models.Notification
	unread  int
	loaded  bool

	// Snapshot sequencing: a response is discarded when a newer Load
	// has already been applied, so a slow fetch never clobbers state.
	loadSeq    int
	appliedSeq int
}

// NewNotificationStore creates an empty store backed by the given API.
func NewNotificationStore(api NotificationAPI) *NotificationStore {
	return &NotificationStore{
		api:  api,
		byID: make(map[string]*models.Notification),
	}
}

// Load fetches the REST snapshot and replaces the store wholesale. On
// error the previous state is untouched and a *FetchError is returned;
// the store does not retry on its own.
func (s *NotificationStore) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	list, err := s.api.ListNotifications(ctx)
	if err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues("notifications", "error").Inc()
		return &FetchError{Op: "load notifications", Err: err}
	}
	metrics.SnapshotLoadsTotal.WithLabelValues("notifications", "ok").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.appliedSeq {
		// A newer load already completed; this response is stale
		return nil
	}
	s.appliedSeq = seq

	s.byID = make(map[string]*models.Notification, len(list))
	s.ordered = s.ordered[:0]
	s.unread = 0
	for i := range list {
		n := list[i]
		if _, ok := s.byID[n.ID]; ok {
			continue
		}
		s.byID[n.ID] = &n
		s.insertSorted(&n)
		if !n.Read {
			s.unread++
		}
	}
	s.loaded = true
	metrics.StoreUnread.WithLabelValues("notifications").Set(float64(s.unread))
	return nil
}

// Ingest applies one pushed notification event. Duplicate ids are
// ignored outright (first write wins); the transport delivers full
// objects, not deltas, so there is nothing to merge. Reports whether
// the event was inserted.
func (s *NotificationStore) Ingest(n models.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[n.ID]; ok {
		metrics.StoreEventsDedupedTotal.WithLabelValues("notifications").Inc()
		return false
	}

	entry := n
	s.byID[entry.ID] = &entry
	s.insertSorted(&entry)
	if !entry.Read {
		s.unread++
		metrics.StoreUnread.WithLabelValues("notifications").Set(float64(s.unread))
	}
	return true
}

// insertSorted places n at the position implied by its created_at in
// the descending order. Among equal timestamps the newcomer goes first,
// so the newest push wins visually. Caller holds the lock.
func (s *NotificationStore) insertSorted(n *models.Notification) {
	idx := sort.Search(len(s.ordered), func(i int) bool {
		return !s.ordered[i].CreatedAt.After(n.CreatedAt)
	})
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[idx+1:], s.ordered[idx:])
	s.ordered[idx] = n
}

// MarkRead optimistically flips the entry to read, then confirms with
// the server. A failed confirmation rolls the flip back and returns a
// *FetchError, so local state never silently diverges from the server.
// Already-read ids and unknown ids are no-ops.
func (s *NotificationStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.byID[id]
	if !ok || n.Read {
		s.mu.Unlock()
		return nil
	}
	n.Read = true
	s.unread--
	if s.unread < 0 {
		s.unread = 0
	}
	metrics.StoreUnread.WithLabelValues("notifications").Set(float64(s.unread))
	s.mu.Unlock()

	if err := s.api.MarkNotificationRead(ctx, id); err != nil {
		s.mu.Lock()
		if n, ok := s.byID[id]; ok && n.Read {
			n.Read = false
			s.unread++
			metrics.StoreUnread.WithLabelValues("notifications").Set(float64(s.unread))
		}
		s.mu.Unlock()
		return &FetchError{Op: "mark read", Err: err}
	}
	return nil
}

// MarkAllRead optimistically clears every unread flag, then confirms
// with the server. On failure the prior flags are restored and a
// *FetchError is returned.
func (s *NotificationStore) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	flipped := make([]string, 0, s.unread)
	for id, n := range s.byID {
		if !n.Read {
			n.Read = true
			flipped = append(flipped, id)
		}
	}
	s.unread = 0
	metrics.StoreUnread.WithLabelValues("notifications").Set(0)
	s.mu.Unlock()

	if len(flipped) == 0 {
		return nil
	}

	if err := s.api.MarkAllNotificationsRead(ctx); err != nil {
		s.mu.Lock()
		for _, id := range flipped {
			if n, ok := s.byID[id]; ok {
				n.Read = false
			}
		}
		s.recountUnread()
		s.mu.Unlock()
		return &FetchError{Op: "mark all read", Err: err}
	}
	return nil
}

// recountUnread recomputes the counter from the entries. Caller holds
// the lock.
func (s *NotificationStore) recountUnread() {
	count := 0
	for _, n := range s.byID {
		if !n.Read {
			count++
		}
	}
	s.unread = count
	metrics.StoreUnread.WithLabelValues("notifications").Set(float64(count))
}

// Notifications returns a copy of the collection in display order
// (created_at descending).
func (s *NotificationStore) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Notification, len(s.ordered))
	for i, n := range s.ordered {
		out[i] = *n
	}
	return out
}

// UnreadCount returns the derived unread counter.
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Loaded reports whether the first snapshot has been applied.
func (s *NotificationStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Clear empties the store. Called on logout/session end.
func (s *NotificationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*models.Notification)
	s.ordered = nil
	s.unread = 0
	s.loaded = false
	metrics.StoreUnread.WithLabelValues("notifications").Set(0)
}
