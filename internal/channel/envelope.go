package channel

import "tabchat/internal/chat"

// Envelope kinds carried across the tab broadcast channel. Receivers
// ignore any other kind, so new kinds can be added without breaking
// older tabs.
const (
	KindNewMessage   = "NEW_MESSAGE"
	KindNewUser      = "NEW_USER"
	KindSyncMessages = "SYNC_MESSAGES"
)

// Envelope is one broadcast payload. Exactly one of Message, User or
// Messages is meaningful depending on Kind.
type Envelope struct {
	Kind     string
	Message  chat.Message
	User     string
	Messages []chat.Message
}

// NewMessageEnvelope wraps a freshly sent message.
func NewMessageEnvelope(msg chat.Message) Envelope {
	return Envelope{Kind: KindNewMessage, Message: msg}
}

// NewUserEnvelope announces a user name to sibling tabs.
func NewUserEnvelope(name string) Envelope {
	return Envelope{Kind: KindNewUser, User: name}
}

// SyncEnvelope carries one tab's full view of the log.
func SyncEnvelope(msgs []chat.Message) Envelope {
	return Envelope{Kind: KindSyncMessages, Messages: msgs}
}
