// Package tabs manages the set of open tabs in this process: each tab
// is an independent session with its own sync engine, all sharing one
// durable store and one broadcast broker.
package tabs

import (
	"context"
	stdsync "sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tabchat/internal/channel"
	"tabchat/internal/session"
	"tabchat/internal/store"
	"tabchat/internal/sync"
)

// Tab is one open tab: its controller, its engine, and the means to
// tear both down.
type Tab struct {
	Slot    string
	Session *session.Session
	Engine  *sync.Engine

	cancel context.CancelFunc
}

// Registry tracks open tabs by slot. Opening a slot that is already
// open returns the existing tab, so a UI reconnecting after a network
// blip does not fork a second execution context.
type Registry struct {
	store    store.Store
	broker   *channel.Broker
	pageSize int
	log      zerolog.Logger

	mu   stdsync.Mutex
	tabs map[string]*Tab
}

// NewRegistry builds an empty registry over the shared store and broker.
func NewRegistry(st store.Store, broker *channel.Broker, pageSize int, logger zerolog.Logger) *Registry {
	return &Registry{
		store:    st,
		broker:   broker,
		pageSize: pageSize,
		log:      logger,
		tabs:     make(map[string]*Tab),
	}
}

// Open mounts a tab for slot, minting a fresh slot when empty. A fresh
// slot is a brand-new tab; a slot seen in an earlier process lifetime
// is a reload and recovers its persisted identity. The tab lives until
// Close or CloseAll, not until any request finishes.
func (r *Registry) Open(slot string) (*Tab, error) {
	if slot == "" {
		slot = uuid.NewString()
	}

	// Mounting happens under the lock, so two concurrent opens of one
	// slot share a single tab and never fork a second engine.
	r.mu.Lock()
	defer r.mu.Unlock()

	if tab, ok := r.tabs[slot]; ok {
		return tab, nil
	}

	tabCtx, cancel := context.WithCancel(context.Background())
	eng := sync.New(slot, r.store, r.broker, r.log)
	go eng.Run(tabCtx)

	sess, err := session.Mount(slot, eng, r.store, r.pageSize, r.log)
	if err != nil {
		cancel()
		return nil, err
	}

	tab := &Tab{Slot: slot, Session: sess, Engine: eng, cancel: cancel}
	r.tabs[slot] = tab

	r.log.Info().Str("slot", slot).Str("tab_id", sess.TabID()).Msg("tab opened")
	return tab, nil
}

// Get returns the open tab for slot.
func (r *Registry) Get(slot string) (*Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[slot]
	return tab, ok
}

// Close tears down the tab for slot. Returns false when no such tab is
// open. Persisted state survives; only the execution context ends.
func (r *Registry) Close(slot string) bool {
	r.mu.Lock()
	tab, ok := r.tabs[slot]
	if ok {
		delete(r.tabs, slot)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	tab.cancel()
	r.log.Info().Str("slot", slot).Msg("tab closed")
	return true
}

// CloseAll tears down every open tab, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Tab, 0, len(r.tabs))
	for _, tab := range r.tabs {
		open = append(open, tab)
	}
	r.tabs = make(map[string]*Tab)
	r.mu.Unlock()

	for _, tab := range open {
		tab.cancel()
	}
}
