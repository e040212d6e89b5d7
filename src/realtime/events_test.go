package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelName(t *testing.T) {
	if got := ChannelName(KindNotifications, "user-1"); got != "notifications:user-1" {
		t.Errorf("ChannelName() = %q", got)
	}
	if got := ChannelName(KindConversation, "peer-9"); got != "conversation:peer-9" {
		t.Errorf("ChannelName() = %q", got)
	}
}

func TestDecodeEvent_Notification(t *testing.T) {
	payload := []byte(`{"id":"n1","title":"Hello","message":"body","read":false,"created_at":"2026-08-01T12:00:00Z"}`)
	ev, err := DecodeEvent(&Frame{Type: FrameNotification, Payload: payload})
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	ne, ok := ev.(NotificationEvent)
	if !ok {
		t.Fatalf("event type = %T, want NotificationEvent", ev)
	}
	if ne.Notification.ID != "n1" || ne.Notification.Title != "Hello" {
		t.Errorf("decoded = %+v", ne.Notification)
	}
}

func TestDecodeEvent_Message(t *testing.T) {
	payload := []byte(`{"id":"m1","sender_id":"alice","receiver_id":"bob","content":"hi","created_at":"2026-08-01T12:00:00Z","peer_name":"Alice","peer_avatar":"a.png"}`)
	ev, err := DecodeEvent(&Frame{Type: FrameMessage, Payload: payload})
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	me, ok := ev.(MessageEvent)
	if !ok {
		t.Fatalf("event type = %T, want MessageEvent", ev)
	}
	if me.Message.ID != "m1" || me.Message.SenderID != "alice" {
		t.Errorf("decoded message = %+v", me.Message)
	}
	if me.PeerName != "Alice" || me.PeerAvatar != "a.png" {
		t.Errorf("peer fields = %q, %q", me.PeerName, me.PeerAvatar)
	}
}

func TestDecodeEvent_Presence(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	raw, _ := json.Marshal(map[string]any{"peer_id": "alice", "status": "online", "at": at})
	ev, err := DecodeEvent(&Frame{Type: FramePresence, Payload: raw})
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	pe, ok := ev.(PresenceEvent)
	if !ok {
		t.Fatalf("event type = %T, want PresenceEvent", ev)
	}
	if pe.PeerID != "alice" || string(pe.Status) != "online" || !pe.At.Equal(at) {
		t.Errorf("decoded = %+v", pe)
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
	}{
		{"invalid json", Frame{Type: FrameNotification, Payload: []byte(`{broken`)}},
		{"notification missing id", Frame{Type: FrameNotification, Payload: []byte(`{"title":"x"}`)}},
		{"message missing id", Frame{Type: FrameMessage, Payload: []byte(`{"content":"x"}`)}},
		{"presence missing peer", Frame{Type: FramePresence, Payload: []byte(`{"status":"online"}`)}},
		{"non-event frame", Frame{Type: FrameSubscribed}},
		{"unknown type", Frame{Type: "surprise"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeEvent(&tc.frame); err == nil {
				t.Error("DecodeEvent() should fail")
			}
		})
	}
}
