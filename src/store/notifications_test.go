package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetdesk/portal/src/models"
)

// fakeNotificationAPI is a scriptable NotificationAPI.
type fakeNotificationAPI struct {
	snapshot      []models.Notification
	listErr       error
	markReadErr   error
	markAllErr    error
	markReadCalls []string
	markAllCalls  int
}

func (f *fakeNotificationAPI) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Notification, len(f.snapshot))
	copy(out, f.snapshot)
	return out, nil
}

func (f *fakeNotificationAPI) MarkNotificationRead(ctx context.Context, id string) error {
	f.markReadCalls = append(f.markReadCalls, id)
	return f.markReadErr
}

func (f *fakeNotificationAPI) MarkAllNotificationsRead(ctx context.Context) error {
	f.markAllCalls++
	return f.markAllErr
}

func notif(id string, read bool, at time.Time) models.Notification {
	return models.Notification{
		ID:         id,
		Title:      "title " + id,
		Message:    "message " + id,
		Read:       read,
		SourceKind: models.SourceKindOther,
		CreatedAt:  at,
	}
}

func TestNotificationStore_LoadReplacesWholesale(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeNotificationAPI{snapshot: []models.Notification{
		notif("a", false, base),
		notif("b", true, base.Add(time.Minute)),
		notif("c", false, base.Add(2*time.Minute)),
	}}
	s := NewNotificationStore(api)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	list := s.Notifications()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	// created_at descending regardless of snapshot order
	if list[0].ID != "c" || list[1].ID != "b" || list[2].ID != "a" {
		t.Errorf("order = %s,%s,%s, want c,b,a", list[0].ID, list[1].ID, list[2].ID)
	}
	if s.UnreadCount() != 2 {
		t.Errorf("UnreadCount() = %d, want 2", s.UnreadCount())
	}
}

func TestNotificationStore_LoadFailureKeepsPreviousState(t *testing.T) {
	base := time.Now()
	api := &fakeNotificationAPI{snapshot: []models.Notification{notif("a", false, base)}}
	s := NewNotificationStore(api)

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	api.listErr = errors.New("boom")
	err := s.Load(context.Background())
	if err == nil {
		t.Fatal("Load() should fail")
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Errorf("error type = %T, want *FetchError", err)
	}

	// Previous state untouched
	if len(s.Notifications()) != 1 || s.UnreadCount() != 1 {
		t.Errorf("state clobbered after failed load: len=%d unread=%d", len(s.Notifications()), s.UnreadCount())
	}
}

func TestNotificationStore_IngestDedupByID(t *testing.T) {
	base := time.Now()
	s := NewNotificationStore(&fakeNotificationAPI{})

	if !s.Ingest(notif("a", false, base)) {
		t.Error("first ingest should insert")
	}
	// Exact duplicate, and a duplicate with changed fields: both ignored
	if s.Ingest(notif("a", false, base)) {
		t.Error("duplicate ingest should be ignored")
	}
	if s.Ingest(notif("a", true, base)) {
		t.Error("duplicate with updated fields should be ignored (first write wins)")
	}

	list := s.Notifications()
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].Read {
		t.Error("read flag changed by duplicate event")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount() = %d, want 1", s.UnreadCount())
	}
}

func TestNotificationStore_SnapshotPushConvergence(t *testing.T) {
	// The same entity arriving snapshot-then-push or push-then-snapshot
	// must end in the same place.
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entity := notif("x", false, base.Add(time.Minute))
	older := notif("o", true, base)

	// snapshot first, push second
	api := &fakeNotificationAPI{snapshot: []models.Notification{older, entity}}
	first := NewNotificationStore(api)
	if err := first.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	first.Ingest(entity)

	// push first, snapshot second
	second := NewNotificationStore(api)
	second.Ingest(entity)
	if err := second.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, b := first.Notifications(), second.Notifications()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Read != b[i].Read {
			t.Errorf("position %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if first.UnreadCount() != second.UnreadCount() {
		t.Errorf("unread differs: %d vs %d", first.UnreadCount(), second.UnreadCount())
	}
}

func TestNotificationStore_OrderingWithTies(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewNotificationStore(&fakeNotificationAPI{})

	s.Ingest(notif("first", false, base))
	s.Ingest(notif("second", false, base)) // same timestamp
	s.Ingest(notif("older", false, base.Add(-time.Hour)))

	list := s.Notifications()
	// Newest push wins visually on a timestamp tie
	if list[0].ID != "second" || list[1].ID != "first" || list[2].ID != "older" {
		t.Errorf("order = %s,%s,%s, want second,first,older", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestNotificationStore_UnreadInvariant(t *testing.T) {
	base := time.Now()
	api := &fakeNotificationAPI{}
	s := NewNotificationStore(api)

	for i := 0; i < 10; i++ {
		s.Ingest(notif(fmt.Sprintf("n%d", i), i%3 == 0, base.Add(time.Duration(i)*time.Second)))
	}
	s.MarkRead(context.Background(), "n1")
	s.MarkRead(context.Background(), "n1") // idempotent
	s.MarkRead(context.Background(), "missing")

	count := 0
	for _, n := range s.Notifications() {
		if !n.Read {
			count++
		}
	}
	if s.UnreadCount() != count {
		t.Errorf("UnreadCount() = %d, want %d (count of read=false)", s.UnreadCount(), count)
	}

	if len(api.markReadCalls) != 1 {
		t.Errorf("server confirmations = %d, want 1", len(api.markReadCalls))
	}
}

func TestNotificationStore_MarkReadRollsBackOnServerFailure(t *testing.T) {
	base := time.Now()
	api := &fakeNotificationAPI{markReadErr: errors.New("server unavailable")}
	s := NewNotificationStore(api)
	s.Ingest(notif("a", false, base))

	err := s.MarkRead(context.Background(), "a")
	if err == nil {
		t.Fatal("MarkRead() should surface the server failure")
	}

	list := s.Notifications()
	if list[0].Read {
		t.Error("read flag not rolled back after failed confirmation")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount() = %d, want 1 after rollback", s.UnreadCount())
	}
}

func TestNotificationStore_MarkAllReadRollsBackOnServerFailure(t *testing.T) {
	base := time.Now()
	api := &fakeNotificationAPI{markAllErr: errors.New("server unavailable")}
	s := NewNotificationStore(api)
	s.Ingest(notif("a", false, base))
	s.Ingest(notif("b", false, base.Add(time.Second)))
	s.Ingest(notif("c", true, base.Add(2*time.Second)))

	err := s.MarkAllRead(context.Background())
	if err == nil {
		t.Fatal("MarkAllRead() should surface the server failure")
	}

	if s.UnreadCount() != 2 {
		t.Errorf("UnreadCount() = %d, want 2 after rollback", s.UnreadCount())
	}
	for _, n := range s.Notifications() {
		if n.ID == "c" && !n.Read {
			t.Error("entry that was already read got rolled back too")
		}
	}
}

func TestNotificationStore_MarkAllReadSuccess(t *testing.T) {
	base := time.Now()
	api := &fakeNotificationAPI{}
	s := NewNotificationStore(api)
	s.Ingest(notif("a", false, base))
	s.Ingest(notif("b", false, base.Add(time.Second)))

	if err := s.MarkAllRead(context.Background()); err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d, want 0", s.UnreadCount())
	}
	if api.markAllCalls != 1 {
		t.Errorf("server confirmations = %d, want 1", api.markAllCalls)
	}

	// Nothing unread: no extra server round trip
	if err := s.MarkAllRead(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.markAllCalls != 1 {
		t.Errorf("server confirmations after no-op = %d, want 1", api.markAllCalls)
	}
}

// slowFirstAPI serves "old" on the first List call after blocking on
// the gate, and "new" immediately on later calls.
type slowFirstAPI struct {
	fakeNotificationAPI
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	old   []models.Notification
	fresh []models.Notification
}

func (f *slowFirstAPI) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		<-f.gate
		return f.old, nil
	}
	return f.fresh, nil
}

func TestNotificationStore_StaleSnapshotDiscarded(t *testing.T) {
	base := time.Now()
	api := &slowFirstAPI{
		gate:  make(chan struct{}),
		old:   []models.Notification{notif("old", false, base)},
		fresh: []models.Notification{notif("new", false, base.Add(time.Hour))},
	}
	s := NewNotificationStore(api)

	// First load hangs at the fake server
	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	// Second load completes first with newer data
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Release the slow response; it must not clobber the newer state
	close(api.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	list := s.Notifications()
	if len(list) != 1 || list[0].ID != "new" {
		t.Errorf("stale snapshot clobbered newer state: %+v", list)
	}
}

func TestNotificationStore_Clear(t *testing.T) {
	s := NewNotificationStore(&fakeNotificationAPI{})
	s.Ingest(notif("a", false, time.Now()))

	s.Clear()
	if len(s.Notifications()) != 0 || s.UnreadCount() != 0 || s.Loaded() {
		t.Error("Clear() left state behind")
	}
}
