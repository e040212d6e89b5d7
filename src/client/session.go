package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/fleetdesk/portal/src/api"
	"github.com/fleetdesk/portal/src/realtime"
	"github.com/fleetdesk/portal/src/store"
	"github.com/fleetdesk/portal/src/utils"
)

// Session wires one authenticated user to the realtime subsystem: the
// REST client, the connection manager with its subscription registry,
// and the stores every view renders from. It owns their lifetimes —
// Close tears down subscriptions, disconnects, and destroys store
// state, which is what logout and token invalidation require.
type Session struct {
	Config *CLIConfig
	API    *api.Client

	Notifications *store.NotificationStore
	Conversations *store.ConversationStore
	Presence      *store.PresenceTracker

	// EventTap, when set before Start, additionally receives every
	// dispatched event (used by watch mode and the TUI to redraw)
	EventTap func(realtime.Event)

	mgr    *realtime.Manager
	reg    *realtime.Registry
	logger *utils.Logger
	cron   *cron.Cron

	mu         sync.Mutex
	notifSub   *realtime.Handle
	convSub    *realtime.Handle
	convPeer   string
	pollOnly   bool
	started    bool
}

// NewSession builds the object graph for a configured user. Nothing
// connects until Start.
func NewSession(cfg *CLIConfig) (*Session, error) {
	if cfg.Auth.Token == "" {
		return nil, NewAuthError("not logged in (run: portal-cli login)")
	}
	if cfg.Auth.UserID == "" {
		return nil, NewAuthError("stored login is incomplete (run: portal-cli login)")
	}

	logger, err := utils.NewLogger(cfg.LogDir(), cfg.Debug)
	if err != nil {
		return nil, NewConfigError(err.Error())
	}

	apiClient := api.NewClient(cfg.ServerURL(), cfg.Auth.Token)
	apiClient.UserAgent = UserAgent()

	mgr := realtime.NewManager(cfg.RealtimeURL())

	s := &Session{
		Config:        cfg,
		API:           apiClient,
		Notifications: store.NewNotificationStore(apiClient),
		Conversations: store.NewConversationStore(apiClient, cfg.Auth.UserID),
		Presence:      store.NewPresenceTracker(),
		mgr:           mgr,
		reg:           realtime.NewRegistry(mgr),
		logger:        logger,
	}
	return s, nil
}

// Start connects the push channel, loads the initial snapshots, opens
// the user's notification subscription, and schedules periodic
// snapshot reconciliation. An auth rejection is terminal: the caller
// must send the user back through login.
func (s *Session) Start(ctx context.Context) error {
	if err := s.mgr.Connect(s.Config.Auth.Token); err != nil {
		if authErr, ok := err.(*realtime.AuthRejectedError); ok {
			s.logger.Error("realtime authentication rejected: %s", authErr.Reason)
			return NewAuthError(authErr.Error())
		}
		// Connection failures are not terminal: the session still
		// works in poll-only mode off the REST snapshots
		s.logger.Error("realtime connect failed, running poll-only: %v", err)
		s.setPollOnly(true)
	}

	if err := s.Notifications.Load(ctx); err != nil {
		s.logger.Error("initial notification snapshot: %v", err)
		return NewConnectionError(err.Error())
	}
	if err := s.Conversations.LoadConversations(ctx); err != nil {
		s.logger.Error("initial conversation snapshot: %v", err)
		return NewConnectionError(err.Error())
	}

	s.mu.Lock()
	s.notifSub = s.reg.Subscribe(realtime.KindNotifications, s.Config.Auth.UserID, realtime.Callbacks{
		OnConnected: func() {
			s.setPollOnly(false)
			// Reconcile whatever was pushed while we were away
			go s.reconcile()
		},
		OnDisconnected: func() {
			s.logger.Info("push channel down, falling back to polling")
		},
		OnRejected: func(reason string) {
			s.logger.Error("notification subscription rejected: %s", reason)
			s.setPollOnly(true)
		},
		OnEvent: s.dispatch,
	})
	s.started = true
	s.mu.Unlock()

	// Periodic reconciliation doubles as the poll fallback when the
	// push channel is rejected or down
	s.cron = cron.New()
	interval := fmt.Sprintf("@every %s", s.Config.PollInterval())
	if _, err := s.cron.AddFunc(interval, s.reconcile); err != nil {
		return NewConfigError(fmt.Sprintf("invalid poll interval: %v", err))
	}
	s.cron.Start()

	return nil
}

// OpenConversation selects a conversation: subscribes to its channel
// and loads + marks read its message history. Any previously open
// conversation subscription is released first.
func (s *Session) OpenConversation(ctx context.Context, peerID string) error {
	s.mu.Lock()
	if s.convSub != nil && s.convPeer != peerID {
		s.convSub.Unsubscribe()
		s.convSub = nil
	}
	if s.convSub == nil {
		s.convSub = s.reg.Subscribe(realtime.KindConversation, peerID, realtime.Callbacks{
			OnRejected: func(reason string) {
				s.logger.Error("conversation subscription rejected for %s: %s", peerID, reason)
			},
			OnEvent: s.dispatch,
		})
		s.convPeer = peerID
	}
	s.mu.Unlock()

	return s.Conversations.SelectConversation(ctx, peerID)
}

// CloseConversation releases the active conversation subscription.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convSub != nil {
		s.convSub.Unsubscribe()
		s.convSub = nil
		s.convPeer = ""
	}
}

// Reauthenticate rotates the session token (config file edit, token
// refresh). The connection manager closes the old socket and opens a
// new one; subscriptions re-establish automatically.
func (s *Session) Reauthenticate(token string) error {
	s.Config.Auth.Token = token
	s.API.Token = token
	if err := s.mgr.Reauthenticate(token); err != nil {
		if authErr, ok := err.(*realtime.AuthRejectedError); ok {
			return NewAuthError(authErr.Error())
		}
		return NewConnectionError(err.Error())
	}
	return nil
}

// PollOnly reports whether the session is currently degraded to REST
// polling (push channel rejected or unavailable).
func (s *Session) PollOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollOnly
}

// ConnectionState exposes the underlying connection state for status
// displays.
func (s *Session) ConnectionState() realtime.State {
	return s.mgr.State()
}

// Close tears the session down: subscriptions, cron, connection, and
// all store state. Idempotent enough to be deferred unconditionally.
func (s *Session) Close() {
	s.mu.Lock()
	if s.convSub != nil {
		s.convSub.Unsubscribe()
		s.convSub = nil
	}
	if s.notifSub != nil {
		s.notifSub.Unsubscribe()
		s.notifSub = nil
	}
	s.started = false
	s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	s.mgr.Disconnect()

	// Stores are destroyed on session end
	s.Notifications.Clear()
	s.Conversations.Clear()
	s.Presence.Clear()

	s.logger.Info("session closed")
	s.logger.Close()
}

// dispatch routes one decoded push event to the store that owns it.
func (s *Session) dispatch(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.NotificationEvent:
		s.Notifications.Ingest(e.Notification)
	case realtime.MessageEvent:
		s.Conversations.IngestMessageEvent(e.Message, e.PeerName, e.PeerAvatar)
	case realtime.PresenceEvent:
		if e.Status == "" {
			// Bare heartbeat frame, no explicit status
			s.Presence.Heartbeat(e.PeerID)
		} else {
			s.Presence.Observe(e.PeerID, e.Status)
		}
	}
	if s.EventTap != nil {
		s.EventTap(ev)
	}
}

// reconcile refreshes the snapshots against the server. Errors keep
// the last-known-good state and are logged, not surfaced: the next
// tick retries anyway.
func (s *Session) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
	defer cancel()

	if err := s.Notifications.Load(ctx); err != nil {
		s.logger.Error("notification reconcile: %v", err)
	}
	if err := s.Conversations.LoadConversations(ctx); err != nil {
		s.logger.Error("conversation reconcile: %v", err)
	}
	if peer := s.Conversations.ActivePeer(); peer != "" {
		if err := s.Conversations.LoadMessages(ctx, peer); err != nil {
			s.logger.Error("message reconcile: %v", err)
		}
	}
}

func (s *Session) setPollOnly(v bool) {
	s.mu.Lock()
	s.pollOnly = v
	s.mu.Unlock()
}
