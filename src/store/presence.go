package store

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/fleetdesk/portal/src/models"
)

// Presence TTLs: an online signal decays to offline when no heartbeat
// follows; an explicit away lingers longer before decaying.
const (
	presenceOnlineTTL  = 90 * time.Second
	presenceAwayTTL    = 10 * time.Minute
	presenceSweepEvery = 5 * time.Minute
)

// PresenceTracker derives online/away/offline per peer from heartbeat
// and availability events. Peers with no observed signal are offline.
// Purely advisory: nothing in message delivery or read-state logic
// consults it.
type PresenceTracker struct {
	cache *gocache.Cache
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		cache: gocache.New(presenceOnlineTTL, presenceSweepEvery),
	}
}

// Observe records one presence signal for a peer.
func (t *PresenceTracker) Observe(peerID string, status models.PresenceStatus) {
	switch status {
	case models.PresenceOnline:
		t.cache.Set(peerID, models.PresenceOnline, presenceOnlineTTL)
	case models.PresenceAway:
		t.cache.Set(peerID, models.PresenceAway, presenceAwayTTL)
	case models.PresenceOffline:
		t.cache.Delete(peerID)
	}
}

// Heartbeat records a liveness ping, equivalent to an online signal.
func (t *PresenceTracker) Heartbeat(peerID string) {
	t.Observe(peerID, models.PresenceOnline)
}

// Status returns the derived status for a peer, defaulting to offline.
func (t *PresenceTracker) Status(peerID string) models.PresenceStatus {
	if v, ok := t.cache.Get(peerID); ok {
		if status, ok := v.(models.PresenceStatus); ok {
			return status
		}
	}
	return models.PresenceOffline
}

// Clear forgets every observed signal. Called on logout/session end.
func (t *PresenceTracker) Clear() {
	t.cache.Flush()
}
