package chat

import "time"

// Interaction is one finalized question and its answer, persisted for audit/debug.
type Interaction struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionKey string    `json:"sessionKey"`
	TurnID     string    `json:"turnId"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
}

// Client-facing texts shared by the HTTP, SSE and websocket surfaces.
const (
	WaitingMessage = "(Answer is not ready yet, or no complete question has been detected.)"
	ResendMessage  = "(Sorry, the answer could not be generated. Please send your question again.)"
)
