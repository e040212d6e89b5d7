package models

// PresenceStatus is the derived availability of a peer. Purely advisory:
// it never gates message delivery or read-state logic.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)
