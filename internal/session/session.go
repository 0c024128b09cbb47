// Package session owns one tab's identity and turns user intents into
// sync engine operations. It is the only place that knows who this
// tab's user is and whether they joined.
package session

import (
	"strings"
	stdsync "sync"

	"github.com/rs/zerolog"

	"tabchat/internal/chat"
	"tabchat/internal/store"
	"tabchat/internal/sync"
)

// DefaultPageSize is how many messages one page of history shows.
const DefaultPageSize = 25

// Session is the per-tab controller. A session starts Anonymous and
// moves to Joined on the first valid Join; Joined is terminal for the
// tab's lifetime, there is no leave. A session whose tab already has a
// persisted username mounts directly in Joined.
type Session struct {
	// mu guards the identity fields and the page cursor: a browser tab
	// is single-threaded, but the UI collaborator may issue concurrent
	// HTTP requests for the same tab.
	mu stdsync.Mutex

	tabID    string
	username string
	joined   bool

	// hasPerformedInitialSync gates the one-time catch-up broadcast:
	// the first explicit Join of this lifetime shares this tab's view
	// of the log with sibling tabs. Mount-time restore does not arm it.
	hasPerformedInitialSync bool

	page     int
	pageSize int

	engine *sync.Engine
	store  store.Store
	log    zerolog.Logger
}

// Mount builds the session for one execution-context slot: loads the
// persisted log into the engine, recovers or mints the tab identity,
// and restores a previously chosen username if the slot was reloaded.
// The engine's Run loop must already be started.
func Mount(slot string, eng *sync.Engine, st store.Store, pageSize int, logger zerolog.Logger) (*Session, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	s := &Session{
		page:     1,
		pageSize: pageSize,
		engine:   eng,
		store:    st,
		log:      logger.With().Str("slot", slot).Logger(),
	}

	s.engine.LoadFromStore()

	tabID, err := st.GetOrCreateTabID(slot)
	if err != nil {
		return nil, err
	}
	s.tabID = tabID

	name, ok, err := st.GetUsername(tabID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.username = name
		s.joined = true
		s.log.Debug().Str("username", name).Msg("restored identity")
	}

	return s, nil
}

// Join chooses the display name for this tab. A blank name after
// trimming is silently ignored. The first join of this lifetime also
// broadcasts this tab's view of the log so sibling tabs catch up;
// repeat joins update the name without repeating the sync.
func (s *Session) Join(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	s.mu.Lock()
	if err := s.store.SetUsername(s.tabID, name); err != nil {
		s.log.Warn().Err(err).Msg("persist username")
	}
	s.username = name
	s.joined = true
	firstJoin := !s.hasPerformedInitialSync
	s.hasPerformedInitialSync = true
	s.mu.Unlock()

	s.engine.AnnounceUser(name)
	if firstJoin {
		s.engine.BroadcastSync()
	}
}

// Send submits a chat message. Blank text after trimming, or sending
// before joining, is silently ignored.
func (s *Session) Send(text string) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	joined, user := s.joined, s.username
	s.mu.Unlock()

	if text == "" || !joined {
		return
	}
	s.engine.AppendLocal(chat.NewMessage(user, text))
}

// LoadMore widens the visible history window by one page.
func (s *Session) LoadMore() {
	s.mu.Lock()
	s.page++
	s.mu.Unlock()
}

// VisibleMessages returns the most recent page*pageSize messages, the
// slice the UI collaborator renders.
func (s *Session) VisibleMessages() []chat.Message {
	s.mu.Lock()
	window := s.page * s.pageSize
	s.mu.Unlock()

	msgs, _ := s.engine.Snapshot()
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	return msgs
}

// Snapshot returns the full view: all messages and the user set.
func (s *Session) Snapshot() ([]chat.Message, []string) {
	return s.engine.Snapshot()
}

// Joined reports whether this tab has a display name.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Username returns this tab's display name, empty while Anonymous.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// TabID returns this tab's persisted identity.
func (s *Session) TabID() string { return s.tabID }

// Page returns the current history cursor, 1 on a fresh mount.
func (s *Session) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}
