package store

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fleetdesk/portal/src/metrics"
	"github.com/fleetdesk/portal/src/models"
)

// SendError wraps a failed message send. The provisional message stays
// in the list flagged as failed; it is never silently dropped.
type SendError struct {
	ProvisionalID string
	Err           error
}

// Error implements the error interface
func (e *SendError) Error() string {
	return "send failed: " + e.Err.Error()
}

// Unwrap returns the underlying error
func (e *SendError) Unwrap() error {
	return e.Err
}

// ConversationAPI is the slice of the REST client the store needs.
type ConversationAPI interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, peerID string) ([]models.Message, error)
	SendMessage(ctx context.Context, peerID, content string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, peerID string) error
}

// ConversationStore maintains the per-peer conversation index (preview
// and unread count) plus the active conversation's message list, merged
// from snapshots and push events.
//
// Per-conversation unread counts only ever change for the conversation
// an event or action targets; opening one conversation never clears
// another's unread state. The active message list is kept in
// created_at ascending order with unique ids.
type ConversationStore struct {
	api         ConversationAPI
	currentUser string

	mu         sync.RWMutex
	convs      map[string]*models.Conversation
	activePeer string
	messages   []*models.Message
	msgIDs     map[string]struct{}

	convLoadSeq, convAppliedSeq int
	msgLoadSeq, msgAppliedSeq   int
}

// NewConversationStore creates an empty store for the given user.
func NewConversationStore(api ConversationAPI, currentUser string) *ConversationStore {
	return &ConversationStore{
		api:         api,
		currentUser: currentUser,
		convs:       make(map[string]*models.Conversation),
		msgIDs:      make(map[string]struct{}),
	}
}

// LoadConversations fetches the peer index snapshot and replaces it
// wholesale. Previous state is untouched on error.
func (s *ConversationStore) LoadConversations(ctx context.Context) error {
	s.mu.Lock()
	s.convLoadSeq++
	seq := s.convLoadSeq
	s.mu.Unlock()

	list, err := s.api.ListConversations(ctx)
	if err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues("conversations", "error").Inc()
		return &FetchError{Op: "load conversations", Err: err}
	}
	metrics.SnapshotLoadsTotal.WithLabelValues("conversations", "ok").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.convAppliedSeq {
		return nil
	}
	s.convAppliedSeq = seq

	s.convs = make(map[string]*models.Conversation, len(list))
	for i := range list {
		c := list[i]
		s.convs[c.PeerID] = &c
	}
	s.publishUnread()
	return nil
}

// SelectConversation makes peerID the active conversation: loads its
// message history and marks it (and only it) read. Safe to call again
// for the already active peer.
func (s *ConversationStore) SelectConversation(ctx context.Context, peerID string) error {
	s.mu.Lock()
	if s.activePeer != peerID {
		s.activePeer = peerID
		s.messages = nil
		s.msgIDs = make(map[string]struct{})
	}
	s.mu.Unlock()

	if err := s.LoadMessages(ctx, peerID); err != nil {
		return err
	}
	return s.MarkConversationRead(ctx, peerID)
}

// ActivePeer returns the currently selected conversation's peer id, or
// "" when none is selected.
func (s *ConversationStore) ActivePeer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePeer
}

// LoadMessages fetches the message history for one peer and replaces
// the active list, keeping failed or still-pending provisionals so a
// submitted message is never lost by a refresh. Stale responses (an
// older fetch completing after a newer one, or a fetch for a peer that
// is no longer active) are discarded.
func (s *ConversationStore) LoadMessages(ctx context.Context, peerID string) error {
	s.mu.Lock()
	s.msgLoadSeq++
	seq := s.msgLoadSeq
	s.mu.Unlock()

	list, err := s.api.ListMessages(ctx, peerID)
	if err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues("messages", "error").Inc()
		return &FetchError{Op: "load messages", Err: err}
	}
	metrics.SnapshotLoadsTotal.WithLabelValues("messages", "ok").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activePeer != peerID || seq <= s.msgAppliedSeq {
		return nil
	}
	s.msgAppliedSeq = seq

	var keep []*models.Message
	for _, m := range s.messages {
		if m.Pending || m.Failed {
			keep = append(keep, m)
		}
	}

	s.messages = s.messages[:0]
	s.msgIDs = make(map[string]struct{}, len(list))
	for i := range list {
		m := list[i]
		if _, ok := s.msgIDs[m.ID]; ok {
			continue
		}
		s.msgIDs[m.ID] = struct{}{}
		s.messages = append(s.messages, &m)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})
	for _, m := range keep {
		if _, ok := s.msgIDs[m.ID]; !ok {
			s.msgIDs[m.ID] = struct{}{}
			s.insertMessageSorted(m)
		}
	}
	return nil
}

// MarkConversationRead zeroes one conversation's unread count and
// confirms with the server. On failure the prior unread state (count
// and per-message read flags) is restored and a *FetchError returned.
// Idempotent and safe to re-issue.
func (s *ConversationStore) MarkConversationRead(ctx context.Context, peerID string) error {
	s.mu.Lock()
	prior := 0
	if c, ok := s.convs[peerID]; ok {
		prior = c.UnreadCount
		c.UnreadCount = 0
	}
	var flipped []*models.Message
	if s.activePeer == peerID {
		for _, m := range s.messages {
			if m.SenderID != s.currentUser && !m.IsRead {
				m.IsRead = true
				flipped = append(flipped, m)
			}
		}
	}
	s.publishUnread()
	s.mu.Unlock()

	if err := s.api.MarkConversationRead(ctx, peerID); err != nil {
		s.mu.Lock()
		if c, ok := s.convs[peerID]; ok && c.UnreadCount == 0 {
			c.UnreadCount = prior
		}
		for _, m := range flipped {
			m.IsRead = false
		}
		s.publishUnread()
		s.mu.Unlock()
		return &FetchError{Op: "mark conversation read", Err: err}
	}
	return nil
}

// Send appends a provisional message to the active list immediately and
// delivers it. On confirmation the provisional entry is swapped in
// place for the canonical one; on failure it stays, flagged failed, and
// a *SendError is returned. Returns the provisional id so a caller can
// retry or discard on failure.
func (s *ConversationStore) Send(ctx context.Context, peerID, content string) (string, error) {
	prov := &models.Message{
		ID:         "tmp-" + ulid.Make().String(),
		SenderID:   s.currentUser,
		ReceiverID: peerID,
		Content:    content,
		CreatedAt:  time.Now(),
		Pending:    true,
	}

	s.mu.Lock()
	if s.activePeer == peerID {
		s.msgIDs[prov.ID] = struct{}{}
		s.messages = append(s.messages, prov)
	}
	s.mu.Unlock()

	return prov.ID, s.deliver(ctx, peerID, prov)
}

// RetryMessage re-sends a failed provisional message.
func (s *ConversationStore) RetryMessage(ctx context.Context, provisionalID string) error {
	s.mu.Lock()
	var prov *models.Message
	for _, m := range s.messages {
		if m.ID == provisionalID && m.Failed {
			prov = m
			break
		}
	}
	if prov == nil {
		s.mu.Unlock()
		return nil
	}
	prov.Failed = false
	prov.Pending = true
	peerID := prov.ReceiverID
	s.mu.Unlock()

	return s.deliver(ctx, peerID, prov)
}

// DiscardMessage removes a failed provisional message at the user's
// explicit request. Messages that are pending or confirmed are never
// removed.
func (s *ConversationStore) DiscardMessage(provisionalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == provisionalID && m.Failed {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			delete(s.msgIDs, provisionalID)
			return
		}
	}
}

// deliver runs the server call for a provisional message and reconciles
// the outcome into the list.
func (s *ConversationStore) deliver(ctx context.Context, peerID string, prov *models.Message) error {
	sent, err := s.api.SendMessage(ctx, peerID, prov.Content)
	if err != nil {
		s.mu.Lock()
		prov.Pending = false
		prov.Failed = true
		s.mu.Unlock()
		metrics.SendFailuresTotal.Inc()
		return &SendError{ProvisionalID: prov.ID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.messages {
		if m.ID != prov.ID {
			continue
		}
		delete(s.msgIDs, prov.ID)
		if _, dup := s.msgIDs[sent.ID]; dup {
			// The push echo beat the HTTP response; drop the
			// provisional rather than duplicate the canonical entry
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
		} else {
			canonical := *sent
			s.msgIDs[canonical.ID] = struct{}{}
			s.messages[i] = &canonical
		}
		break
	}

	s.touchConversation(peerID, "", "", sent)
	return nil
}

// IngestMessageEvent applies one pushed message. For the active
// conversation it is appended in order and immediately marked read
// (with the server confirmation re-issued, since mark-read is
// idempotent); for a background conversation only the index entry is
// touched, never the displayed list.
func (s *ConversationStore) IngestMessageEvent(msg models.Message, peerName, peerAvatar string) {
	peerID := msg.PeerOf(s.currentUser)
	fromPeer := msg.SenderID != s.currentUser

	s.mu.Lock()
	if s.activePeer == peerID {
		if _, ok := s.msgIDs[msg.ID]; ok {
			metrics.StoreEventsDedupedTotal.WithLabelValues("messages").Inc()
			s.mu.Unlock()
			return
		}
		entry := msg
		if fromPeer {
			entry.IsRead = true
		}
		s.msgIDs[entry.ID] = struct{}{}
		s.insertMessageSorted(&entry)
		s.touchConversation(peerID, peerName, peerAvatar, &entry)
		if c, ok := s.convs[peerID]; ok {
			c.UnreadCount = 0
		}
		s.publishUnread()
		s.mu.Unlock()

		if fromPeer {
			// Keep the server converging to unread=0 even during a
			// burst; errors are advisory only
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := s.api.MarkConversationRead(ctx, peerID); err != nil {
					log.Printf("store: re-issued mark read for %s: %v", peerID, err)
				}
			}()
		}
		return
	}

	// Background conversation: update the index only
	c := s.touchConversation(peerID, peerName, peerAvatar, &msg)
	if fromPeer {
		c.UnreadCount++
	}
	s.publishUnread()
	s.mu.Unlock()
}

// insertMessageSorted keeps the active list non-decreasing by
// created_at. Pushed messages normally land at the tail; the search
// handles the out-of-order arrivals. Caller holds the lock.
func (s *ConversationStore) insertMessageSorted(m *models.Message) {
	idx := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].CreatedAt.After(m.CreatedAt)
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = m
}

// touchConversation updates (or creates) the index entry for a peer
// with the latest preview fields. Caller holds the lock.
func (s *ConversationStore) touchConversation(peerID, peerName, peerAvatar string, last *models.Message) *models.Conversation {
	c, ok := s.convs[peerID]
	if !ok {
		c = &models.Conversation{PeerID: peerID}
		s.convs[peerID] = c
	}
	if peerName != "" {
		c.PeerName = peerName
	}
	if peerAvatar != "" {
		c.PeerAvatar = peerAvatar
	}
	if last != nil && (c.LastMessageAt == nil || !last.CreatedAt.Before(*c.LastMessageAt)) {
		c.LastMessage = last.Content
		at := last.CreatedAt
		c.LastMessageAt = &at
	}
	return c
}

// Conversations returns a copy of the index sorted by last activity,
// newest first; peers without any message yet sort last.
func (s *ConversationStore) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

// Messages returns a copy of the active conversation's message list in
// created_at ascending order.
func (s *ConversationStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// TotalUnread returns the sum of per-conversation unread counts.
func (s *ConversationStore) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalUnreadLocked()
}

func (s *ConversationStore) totalUnreadLocked() int {
	total := 0
	for _, c := range s.convs {
		total += c.UnreadCount
	}
	return total
}

// publishUnread pushes the derived total to the metrics gauge. Caller
// holds the lock.
func (s *ConversationStore) publishUnread() {
	metrics.StoreUnread.WithLabelValues("conversations").Set(float64(s.totalUnreadLocked()))
}

// Clear empties the store. Called on logout/session end.
func (s *ConversationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]*models.Conversation)
	s.activePeer = ""
	s.messages = nil
	s.msgIDs = make(map[string]struct{})
	metrics.StoreUnread.WithLabelValues("conversations").Set(0)
}
