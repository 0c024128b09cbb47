package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tabchat/internal/channel"
	"tabchat/internal/chat"
	"tabchat/internal/store/sqlite"
)

func newTestEngine(t *testing.T, tab string, st *sqlite.SQLiteStore, broker *channel.Broker) *Engine {
	t.Helper()

	eng := New(tab, st, broker, zerolog.New(nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	return eng
}

func newSharedStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppendLocalPropagatesAndPersists(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()
	sender := newTestEngine(t, "tab-a", st, broker)
	receiver := newTestEngine(t, "tab-b", st, broker)

	msg := chat.Message{ID: "1", User: "alice", Text: "hi", Timestamp: 1000}
	sender.AppendLocal(msg)

	waitFor(t, "receiver to see the message", func() bool {
		msgs, _ := receiver.Snapshot()
		return len(msgs) == 1 && msgs[0] == msg
	})

	persisted, err := st.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(persisted) != 1 || persisted[0] != msg {
		t.Fatalf("unexpected persisted log: %+v", persisted)
	}
}

func TestDuplicateDeliveryLandsOnce(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	msg := chat.Message{ID: "1", User: "alice", Text: "hi", Timestamp: 1000}
	// The same message arriving over the broadcast path twice, as when
	// broadcast and storage notification race.
	broker.Post("tab-x", channel.NewMessageEnvelope(msg))
	broker.Post("tab-x", channel.NewMessageEnvelope(msg))

	waitFor(t, "message to arrive", func() bool {
		msgs, _ := eng.Snapshot()
		return len(msgs) >= 1
	})

	// Give the second delivery a moment to be (wrongly) applied.
	time.Sleep(50 * time.Millisecond)
	msgs, _ := eng.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestSyncReplacesLocalOnlyMessages(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	eng.AppendLocal(chat.Message{ID: "local", User: "alice", Text: "unsynced", Timestamp: 1})

	payload := []chat.Message{
		{ID: "1", User: "bob", Text: "hello", Timestamp: 1000},
		{ID: "2", User: "carol", Text: "hi", Timestamp: 2000},
	}
	broker.Post("tab-x", channel.SyncEnvelope(payload))

	waitFor(t, "sync to replace the log", func() bool {
		msgs, _ := eng.Snapshot()
		return len(msgs) == 2 && msgs[0] == payload[0] && msgs[1] == payload[1]
	})
}

func TestNewUserDeduplicates(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	broker.Post("tab-x", channel.NewUserEnvelope("alice"))
	broker.Post("tab-x", channel.NewUserEnvelope("alice"))

	waitFor(t, "user to arrive", func() bool {
		_, users := eng.Snapshot()
		return len(users) >= 1
	})

	time.Sleep(50 * time.Millisecond)
	_, users := eng.Snapshot()
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("unexpected users: %v", users)
	}
}

func TestStorageChangeConverges(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	// Another tab writes the log without any broadcast reaching us, as
	// for a hidden tab that only gets the storage notification.
	written := []chat.Message{{ID: "9", User: "bob", Text: "offline write", Timestamp: 9000}}
	if err := st.SaveMessages("tab-ghost", written); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	waitFor(t, "storage change to converge", func() bool {
		msgs, _ := eng.Snapshot()
		return len(msgs) == 1 && msgs[0] == written[0]
	})
}

func TestUnknownEnvelopeKindIgnored(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	broker.Post("tab-x", channel.Envelope{Kind: "FUTURE_KIND", User: "ignored"})
	known := chat.Message{ID: "1", User: "alice", Text: "hi", Timestamp: 1000}
	broker.Post("tab-x", channel.NewMessageEnvelope(known))

	waitFor(t, "known envelope to apply", func() bool {
		msgs, _ := eng.Snapshot()
		return len(msgs) == 1 && msgs[0] == known
	})

	_, users := eng.Snapshot()
	if len(users) != 0 {
		t.Fatalf("unknown kind must not mutate state: %v", users)
	}
}

func TestLoadFromStore(t *testing.T) {
	st := newSharedStore(t)
	persisted := []chat.Message{{ID: "1", User: "alice", Text: "hello", Timestamp: 1000}}
	if err := st.SaveMessages("earlier-lifetime", persisted); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	eng.LoadFromStore()

	msgs, _ := eng.Snapshot()
	if len(msgs) != 1 || msgs[0] != persisted[0] {
		t.Fatalf("unexpected log after load: %+v", msgs)
	}
}

func TestReplacementEngineStillReceives(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	old := New("tab-a", st, broker, zerolog.New(nil))
	oldStopped := make(chan struct{})
	go func() {
		old.Run(ctx)
		close(oldStopped)
	}()

	// A reload: the slot re-mounts while the old engine still exists,
	// then the old engine tears down. Its cleanup must not remove the
	// replacement's broker subscription or store watch.
	replacement := newTestEngine(t, "tab-a", st, broker)
	cancel()
	<-oldStopped

	sibling := newTestEngine(t, "tab-b", st, broker)
	msg := chat.Message{ID: "1", User: "alice", Text: "hi again", Timestamp: 1000}
	sibling.AppendLocal(msg)

	waitFor(t, "replacement engine to converge", func() bool {
		msgs, _ := replacement.Snapshot()
		return len(msgs) == 1 && msgs[0] == msg
	})
}

func TestCallsAfterStopDoNotBlock(t *testing.T) {
	st := newSharedStore(t)
	broker := channel.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	eng := New("tab-a", st, broker, zerolog.New(nil))
	stopped := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(stopped)
	}()

	eng.AppendLocal(chat.Message{ID: "1", User: "alice", Text: "hi", Timestamp: 1000})
	cancel()
	<-stopped

	var msgs []chat.Message
	returned := make(chan struct{})
	go func() {
		msgs, _ = eng.Snapshot()
		eng.AppendLocal(chat.Message{ID: "2", User: "alice", Text: "late", Timestamp: 2000})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("engine call blocked after shutdown")
	}
	if len(msgs) != 0 {
		t.Fatalf("stopped engine must report an empty view, got %+v", msgs)
	}
}

func TestLoadFromStoreIdempotent(t *testing.T) {
	st := newSharedStore(t)
	persisted := []chat.Message{
		{ID: "1", User: "alice", Text: "one", Timestamp: 1000},
		{ID: "2", User: "bob", Text: "two", Timestamp: 2000},
	}
	if err := st.SaveMessages("earlier-lifetime", persisted); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	broker := channel.NewBroker()
	eng := newTestEngine(t, "tab-a", st, broker)

	eng.LoadFromStore()
	eng.LoadFromStore()

	msgs, _ := eng.Snapshot()
	if len(msgs) != 2 || msgs[0] != persisted[0] || msgs[1] != persisted[1] {
		t.Fatalf("reload must yield the same log: %+v", msgs)
	}
}
