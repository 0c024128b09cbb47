package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tabchat/internal/chat"
	"tabchat/internal/store"
)

// watchBuffer caps queued change notifications per watcher; a watcher
// that stops draining simply misses changes, it never blocks a writer.
const watchBuffer = 16

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

// SQLiteStore implements store.Store on a single shared SQLite file,
// the durable analog of origin-scoped browser storage.
type SQLiteStore struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[string]chan store.Change
}

// New opens (creating if needed) the store at dbPath. Use ":memory:"
// for an ephemeral store in tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		watchers: make(map[string]chan store.Change),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadMessages reads the persisted log. Absent key or unparseable JSON
// both yield (nil, nil): corrupt data is treated as no data.
func (s *SQLiteStore) LoadMessages() ([]chat.Message, error) {
	raw, ok, err := s.get(store.KeyMessages)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var msgs []chat.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, nil
	}
	return msgs, nil
}

// SaveMessages overwrites the full log under the well-known key and
// notifies every watcher except origin. Writing bytes identical to the
// stored value is a no-op and notifies nobody, the same way a browser
// storage event only fires when the value actually changes.
func (s *SQLiteStore) SaveMessages(origin string, msgs []chat.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok, err := s.get(store.KeyMessages)
	if err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	if ok && prev == string(data) {
		return nil
	}

	if err := s.set(store.KeyMessages, string(data)); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}

	s.notifyLocked(origin, store.Change{Key: store.KeyMessages, NewValue: string(data)})
	return nil
}

// GetOrCreateTabID returns the identifier persisted for slot, minting
// one on first use. Ids are time-based with a short random suffix;
// uniqueness does not need to be cryptographic.
func (s *SQLiteStore) GetOrCreateTabID(slot string) (string, error) {
	key := store.TabIDKey(slot)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok, err := s.get(key)
	if err != nil {
		return "", fmt.Errorf("read tab id: %w", err)
	}
	if ok {
		return id, nil
	}

	id = "tab-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
	if err := s.set(key, id); err != nil {
		return "", fmt.Errorf("persist tab id: %w", err)
	}
	return id, nil
}

// GetUsername returns the display name stored for tabID.
func (s *SQLiteStore) GetUsername(tabID string) (string, bool, error) {
	name, ok, err := s.get(store.UsernameKey(tabID))
	if err != nil {
		return "", false, fmt.Errorf("read username: %w", err)
	}
	return name, ok, nil
}

// SetUsername persists the display name for tabID.
func (s *SQLiteStore) SetUsername(tabID, name string) error {
	if err := s.set(store.UsernameKey(tabID), name); err != nil {
		return fmt.Errorf("persist username: %w", err)
	}
	return nil
}

// Watch registers a change listener under id. Registering the same id
// again replaces the earlier channel.
func (s *SQLiteStore) Watch(id string) <-chan store.Change {
	ch := make(chan store.Change, watchBuffer)
	s.mu.Lock()
	s.watchers[id] = ch
	s.mu.Unlock()
	return ch
}

// Unwatch removes the listener registered under id.
func (s *SQLiteStore) Unwatch(id string) {
	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
}

func (s *SQLiteStore) notifyLocked(origin string, change store.Change) {
	for id, ch := range s.watchers {
		if id == origin {
			continue
		}
		select {
		case ch <- change:
		default:
			// Drop if slow consumer.
		}
	}
}

func (s *SQLiteStore) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, value,
	)
	return err
}
