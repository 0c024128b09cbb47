package http

import (
	"tabchat/internal/chat"
	"tabchat/internal/tabs"
)

// MessageResponse is the wire shape of one message, matching the
// persisted layout: camelCase keys, millisecond timestamp.
type MessageResponse struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// StateResponse is the view the UI collaborator renders: the visible
// window of the log, the user set, and this tab's identity. Messages
// and Users are never null, so an empty conversation serializes as [].
type StateResponse struct {
	Slot     string            `json:"slot"`
	TabID    string            `json:"tabId"`
	Username string            `json:"username"`
	IsJoined bool              `json:"isJoined"`
	Page     int               `json:"page"`
	Messages []MessageResponse `json:"messages"`
	Users    []string          `json:"users"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func messagesToResponse(msgs []chat.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			User:      m.User,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

func stateResponse(tab *tabs.Tab) StateResponse {
	_, users := tab.Session.Snapshot()
	if users == nil {
		users = []string{}
	}
	return StateResponse{
		Slot:     tab.Slot,
		TabID:    tab.Session.TabID(),
		Username: tab.Session.Username(),
		IsJoined: tab.Session.Joined(),
		Page:     tab.Session.Page(),
		Messages: messagesToResponse(tab.Session.VisibleMessages()),
		Users:    users,
	}
}
