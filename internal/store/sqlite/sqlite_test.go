package sqlite

import (
	"testing"
	"time"

	"tabchat/internal/chat"
	"tabchat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMessagesAbsent(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected no data, got %+v", msgs)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := []chat.Message{
		{ID: "1", User: "A", Text: "hello", Timestamp: 1000},
		{ID: "2", User: "B", Text: "hi", Timestamp: 2000},
		{ID: "3", User: "A", Text: "bye", Timestamp: 3000},
	}
	if err := s.SaveMessages("tab-a", want); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	got, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestSaveIsNoOpOnIdenticalBytes(t *testing.T) {
	s := newTestStore(t)

	msgs := []chat.Message{{ID: "1", User: "A", Text: "hi", Timestamp: 1000}}
	if err := s.SaveMessages("tab-a", msgs); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	before, ok, err := s.get(store.KeyMessages)
	if err != nil || !ok {
		t.Fatalf("expected persisted log: ok=%v err=%v", ok, err)
	}

	// save(load()) must leave the persisted bytes untouched.
	loaded, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if err := s.SaveMessages("tab-b", loaded); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	after, _, err := s.get(store.KeyMessages)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if before != after {
		t.Fatalf("round trip changed persisted bytes:\n%s\n%s", before, after)
	}
}

func TestCorruptLogReadsAsEmpty(t *testing.T) {
	s := newTestStore(t)

	if err := s.set(store.KeyMessages, "{not json"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	msgs, err := s.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if msgs != nil {
		t.Fatalf("expected corrupt data to read as no data, got %+v", msgs)
	}
}

func TestGetOrCreateTabID(t *testing.T) {
	s := newTestStore(t)

	first, err := s.GetOrCreateTabID("slot-1")
	if err != nil {
		t.Fatalf("GetOrCreateTabID failed: %v", err)
	}
	if first == "" {
		t.Fatal("expected a generated tab id")
	}

	again, err := s.GetOrCreateTabID("slot-1")
	if err != nil {
		t.Fatalf("GetOrCreateTabID failed: %v", err)
	}
	if again != first {
		t.Fatalf("reload changed the tab id: %s vs %s", first, again)
	}

	other, err := s.GetOrCreateTabID("slot-2")
	if err != nil {
		t.Fatalf("GetOrCreateTabID failed: %v", err)
	}
	if other == first {
		t.Fatal("distinct slots must get distinct tab ids")
	}
}

func TestUsernamePerTab(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetUsername("tab-1"); err != nil || ok {
		t.Fatalf("expected no username: ok=%v err=%v", ok, err)
	}

	if err := s.SetUsername("tab-1", "alice"); err != nil {
		t.Fatalf("SetUsername failed: %v", err)
	}
	if err := s.SetUsername("tab-2", "bob"); err != nil {
		t.Fatalf("SetUsername failed: %v", err)
	}

	name, ok, err := s.GetUsername("tab-1")
	if err != nil || !ok || name != "alice" {
		t.Fatalf("unexpected username: %q ok=%v err=%v", name, ok, err)
	}
	name, _, _ = s.GetUsername("tab-2")
	if name != "bob" {
		t.Fatalf("tabs must hold independent usernames, got %q", name)
	}
}

func TestWatchExcludesWriter(t *testing.T) {
	s := newTestStore(t)

	writer := s.Watch("tab-a")
	other := s.Watch("tab-b")

	msgs := []chat.Message{{ID: "1", User: "A", Text: "hi", Timestamp: 1000}}
	if err := s.SaveMessages("tab-a", msgs); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	select {
	case change := <-other:
		if change.Key != store.KeyMessages || change.NewValue == "" {
			t.Fatalf("unexpected change: %+v", change)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification for other tab")
	}

	select {
	case change := <-writer:
		t.Fatalf("writer must not see its own write: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIdenticalWriteDoesNotNotify(t *testing.T) {
	s := newTestStore(t)

	msgs := []chat.Message{{ID: "1", User: "A", Text: "hi", Timestamp: 1000}}
	if err := s.SaveMessages("tab-a", msgs); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	other := s.Watch("tab-b")
	if err := s.SaveMessages("tab-a", msgs); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	select {
	case change := <-other:
		t.Fatalf("identical write must not notify: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnwatchStopsNotifications(t *testing.T) {
	s := newTestStore(t)

	ch := s.Watch("tab-b")
	s.Unwatch("tab-b")

	if err := s.SaveMessages("tab-a", []chat.Message{{ID: "1", User: "A", Text: "hi", Timestamp: 1}}); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	select {
	case change := <-ch:
		t.Fatalf("unexpected change after Unwatch: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}
