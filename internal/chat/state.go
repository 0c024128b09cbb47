package chat

// State is the in-memory view one tab holds of the conversation: the
// message log in arrival order and the set of known user names in
// insertion order. It is not safe for concurrent use; each tab's sync
// engine serializes access to its own State.
type State struct {
	messages []Message
	users    []string
	byID     map[string]struct{}
}

// NewState returns an empty conversation view.
func NewState() *State {
	return &State{byID: make(map[string]struct{})}
}

// AddMessage appends msg to the log. A message whose id is already
// present is dropped, so replaying the same message over both the
// broadcast and the storage-change path cannot duplicate it.
// Returns true if the log changed.
func (s *State) AddMessage(msg Message) bool {
	if _, seen := s.byID[msg.ID]; seen {
		return false
	}
	s.byID[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

// SetMessages replaces the whole log with msgs. Last sync wins: local
// messages not present in msgs are discarded.
func (s *State) SetMessages(msgs []Message) {
	s.messages = append(s.messages[:0:0], msgs...)
	s.byID = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		s.byID[m.ID] = struct{}{}
	}
}

// AddUser inserts name into the user set. Duplicates are ignored.
// Returns true if the set changed.
func (s *State) AddUser(name string) bool {
	for _, u := range s.users {
		if u == name {
			return false
		}
	}
	s.users = append(s.users, name)
	return true
}

// Messages returns a copy of the log in arrival order.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Users returns a copy of the user set in insertion order.
func (s *State) Users() []string {
	out := make([]string, len(s.users))
	copy(out, s.users)
	return out
}

// Empty reports whether the conversation has no messages yet.
func (s *State) Empty() bool {
	return len(s.messages) == 0
}

// Len returns the number of messages in the log.
func (s *State) Len() int {
	return len(s.messages)
}
