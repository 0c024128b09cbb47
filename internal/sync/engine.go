// Package sync reconciles one tab's in-memory conversation view with
// its own actions, sibling tabs' broadcasts, and the shared durable
// log. The broadcast channel and the storage-change notification are
// independent convergence paths: broadcasts may never reach a
// suspended tab, while storage notifications always describe the final
// persisted bytes. Messages merge by id, so a message arriving over
// both paths lands in the log exactly once.
package sync

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tabchat/internal/channel"
	"tabchat/internal/chat"
	"tabchat/internal/store"
)

// Engine keeps one tab's chat.State consistent across all convergence
// paths. Dependencies are injected at construction; the engine holds no
// process-wide state. All state access runs on the Run loop goroutine:
// exported methods submit their work to the loop and wait, so callers
// never touch the State concurrently.
type Engine struct {
	// id registers this engine on the broker and the store watcher. It
	// is unique per engine, not per slot, so a replacement engine for a
	// reloaded slot never has its registrations torn down by the old
	// engine's deferred cleanup.
	id     string
	state  *chat.State
	store  store.Store
	broker *channel.Broker
	sub    *channel.Subscription
	watch  <-chan store.Change
	log    zerolog.Logger

	ops chan func()
	// updates coalesces change ticks for state consumers (one pending
	// tick at most; a consumer that lags sees a single combined tick).
	updates chan struct{}
	// stopped is closed when Run returns; submits observe it so callers
	// never block on an engine that no longer drains ops.
	stopped chan struct{}
}

// New wires an engine for the tab identified by tab. The identity is
// only used to skip self-delivery on the broker and the store watcher;
// the engine itself has no notion of users.
func New(tab string, st store.Store, broker *channel.Broker, logger zerolog.Logger) *Engine {
	id := tab + "#" + uuid.NewString()[:8]
	return &Engine{
		id:      id,
		state:   chat.NewState(),
		store:   st,
		broker:  broker,
		sub:     broker.Subscribe(id),
		watch:   st.Watch(id),
		log:     logger.With().Str("tab", tab).Logger(),
		ops:     make(chan func(), 16),
		updates: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Run processes broadcasts, storage changes, and locally submitted
// operations on a single goroutine until ctx is done. This mirrors the
// single-threaded execution context of a browser tab: nothing in the
// engine ever runs concurrently with anything else in the same tab.
func (e *Engine) Run(ctx context.Context) {
	defer func() {
		e.broker.Unsubscribe(e.id)
		e.store.Unwatch(e.id)
		close(e.stopped)
	}()

	for {
		select {
		case env := <-e.sub.C:
			e.handleEnvelope(env)
		case change := <-e.watch:
			e.handleChange(change)
		case op := <-e.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// Updates returns a tick channel fired after any state change. Ticks
// coalesce; read Snapshot for the current view.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Snapshot returns a copy of the current view, synchronized with the
// run loop. After the engine has stopped it reports an empty view.
func (e *Engine) Snapshot() (msgs []chat.Message, users []string) {
	e.submitWait(func() {
		msgs = e.state.Messages()
		users = e.state.Users()
	})
	return msgs, users
}

// LoadFromStore replaces the view with the persisted log. Called once
// on mount; an absent or corrupt log loads as empty.
func (e *Engine) LoadFromStore() {
	e.submitWait(func() {
		msgs, err := e.store.LoadMessages()
		if err != nil {
			e.log.Warn().Err(err).Msg("load persisted log")
			return
		}
		e.state.SetMessages(msgs)
		e.tick()
	})
}

// AppendLocal records a message this tab authored: append, persist the
// full log, broadcast NEW_MESSAGE to sibling tabs.
func (e *Engine) AppendLocal(msg chat.Message) {
	e.submitWait(func() {
		if !e.state.AddMessage(msg) {
			return
		}
		e.persist()
		e.broker.Post(e.id, channel.NewMessageEnvelope(msg))
		e.tick()
	})
}

// AnnounceUser adds name to the local user set and broadcasts NEW_USER.
// The broadcast goes out even when the name was already known, matching
// a repeat join; receivers dedupe on insert.
func (e *Engine) AnnounceUser(name string) {
	e.submitWait(func() {
		changed := e.state.AddUser(name)
		e.broker.Post(e.id, channel.NewUserEnvelope(name))
		if changed {
			e.tick()
		}
	})
}

// BroadcastSync sends this tab's full view of the log to sibling tabs,
// the one-time catch-up courtesy performed on first join.
func (e *Engine) BroadcastSync() {
	e.submitWait(func() {
		e.broker.Post(e.id, channel.SyncEnvelope(e.state.Messages()))
	})
}

func (e *Engine) handleEnvelope(env channel.Envelope) {
	switch env.Kind {
	case channel.KindNewMessage:
		if !e.state.AddMessage(env.Message) {
			e.log.Debug().Str("id", env.Message.ID).Msg("duplicate broadcast message dropped")
			return
		}
		e.persist()
		e.tick()
	case channel.KindNewUser:
		if e.state.AddUser(env.User) {
			e.tick()
		}
	case channel.KindSyncMessages:
		e.state.SetMessages(env.Messages)
		e.persist()
		e.tick()
	default:
		// Unknown kinds are a forward-compatible no-op.
	}
}

func (e *Engine) handleChange(change store.Change) {
	if change.Key != store.KeyMessages {
		return
	}

	var msgs []chat.Message
	if err := json.Unmarshal([]byte(change.NewValue), &msgs); err != nil {
		// Corrupt payloads read as no data, same as LoadMessages.
		msgs = nil
	}
	e.state.SetMessages(msgs)
	// Re-persisting bytes identical to what was just read is suppressed
	// by the store, so this cannot echo back to other tabs.
	e.persist()
	e.tick()
}

// persist mirrors the in-memory log back to durable storage. Only a
// non-empty log is written; failures are absorbed as warnings, never
// surfaced to the user.
func (e *Engine) persist() {
	if e.state.Empty() {
		return
	}
	if err := e.store.SaveMessages(e.id, e.state.Messages()); err != nil {
		e.log.Warn().Err(err).Msg("persist log")
	}
}

func (e *Engine) tick() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

// submitWait runs op on the loop goroutine and waits for it. Once Run
// has returned the op is dropped and submitWait returns immediately, so
// callers racing a tab teardown never block forever.
func (e *Engine) submitWait(op func()) {
	done := make(chan struct{})
	wrapped := func() {
		op()
		close(done)
	}
	select {
	case e.ops <- wrapped:
	case <-e.stopped:
		return
	}
	select {
	case <-done:
	case <-e.stopped:
	}
}
