package chat

import (
	"strings"
	"time"
)

// SessionKey identifies one conversation. The engine treats it as opaque.
type SessionKey = string

// NewSessionKey joins a user id and a chat id into a session key. It returns
// "" when either part is blank.
func NewSessionKey(userID, chatID string) SessionKey {
	userID = strings.TrimSpace(userID)
	chatID = strings.TrimSpace(chatID)
	if userID == "" || chatID == "" {
		return ""
	}
	return userID + ":" + chatID
}

// Turn is one completed question/answer exchange kept as conversational context.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Answer is the payload delivered through the per-session mailbox.
// Failed marks a generation error so pollers can tell it apart from "not ready".
type Answer struct {
	TurnID    string    `json:"turnId"`
	Question  string    `json:"question"`
	Text      string    `json:"answer,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	Err       string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionState captures the composing turn, pending answer and recent history of a session.
type SessionState struct {
	Buffer     string
	LastUpdate time.Time
	TurnID     string
	Pending    *Answer
	History    []Turn
}

// Idle reports whether no turn is being composed.
func (s SessionState) Idle() bool {
	return s.Buffer == ""
}

// Clone returns a copy that shares no mutable memory with s.
func (s SessionState) Clone() SessionState {
	out := s
	if s.Pending != nil {
		pending := *s.Pending
		out.Pending = &pending
	}
	if s.History != nil {
		out.History = append([]Turn(nil), s.History...)
	}
	return out
}
