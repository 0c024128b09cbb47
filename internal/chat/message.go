package chat

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Message is a single chat message shared by every tab. Messages are
// immutable once created; the log replaces them only wholesale.
type Message struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage builds a message for the given author with a creation-time
// id and a millisecond timestamp.
func NewMessage(user, text string) Message {
	now := time.Now().UnixMilli()
	return Message{
		ID:        NewMessageID(now),
		User:      user,
		Text:      text,
		Timestamp: now,
	}
}

// NewMessageID returns a monotonic-ish identifier: the creation timestamp
// in milliseconds plus a short random suffix so two tabs sending within
// the same millisecond still get distinct ids.
func NewMessageID(unixMilli int64) string {
	return strconv.FormatInt(unixMilli, 10) + "-" + uuid.NewString()[:8]
}
