package store

import "tabchat/internal/chat"

// Well-known persisted keys. The message log lives under a single key
// and is always rewritten whole: last writer wins, no merge.
const (
	// KeyMessages holds the JSON-encoded message log.
	KeyMessages = "chatMessages"

	tabIDPrefix    = "tabId:"
	usernamePrefix = "username-"
)

// TabIDKey returns the persisted key holding the tab identifier for one
// execution-context slot. A fresh slot has no stored id and therefore
// generates one; remounting the same slot recovers the same identity.
func TabIDKey(slot string) string { return tabIDPrefix + slot }

// UsernameKey returns the persisted key holding the display name chosen
// by the tab identified by tabID. Keying by tab id is what lets sibling
// tabs hold different names at the same time.
func UsernameKey(tabID string) string { return usernamePrefix + tabID }

// Change notifies a watcher that another tab wrote a watched key.
// NewValue carries the raw stored bytes.
type Change struct {
	Key      string
	NewValue string
}

// Store is origin-scoped, synchronous key-value persistence shared by
// every tab: the message log, per-slot tab identity, and per-tab user
// names. All operations take effect immediately; none block beyond the
// underlying database call.
type Store interface {
	// LoadMessages reads the persisted log. An absent or unparseable
	// value is "no data": it yields (nil, nil), never an error.
	LoadMessages() ([]chat.Message, error)

	// SaveMessages serializes msgs and overwrites the persisted log.
	// Watchers other than origin are notified only when the stored
	// bytes actually changed, mirroring storage-event semantics.
	SaveMessages(origin string, msgs []chat.Message) error

	// GetOrCreateTabID returns the tab identifier persisted for slot,
	// generating and persisting a fresh one on first use.
	GetOrCreateTabID(slot string) (string, error)

	// GetUsername returns the display name stored for tabID, with ok
	// false when the tab never joined.
	GetUsername(tabID string) (name string, ok bool, err error)

	// SetUsername persists the display name for tabID.
	SetUsername(tabID, name string) error

	// Watch registers a change listener under id and returns its
	// channel. Writes made with origin == id are not reported back.
	Watch(id string) <-chan Change

	// Unwatch removes the listener registered under id.
	Unwatch(id string)

	// Close releases the underlying database.
	Close() error
}
