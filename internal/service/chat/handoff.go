package chat

import (
	"log"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

// Handoff is the single-slot mailbox between the finalize step and pollers.
// The last write wins; each stored answer is observed by at most one pop.
type Handoff struct {
	store   *Store
	metrics *Metrics
}

// NewHandoff binds a mailbox to the session store that owns the slots.
func NewHandoff(store *Store, metrics *Metrics) *Handoff {
	return &Handoff{store: store, metrics: metrics}
}

// SetAnswer stores answer for key, replacing any unread answer.
func (h *Handoff) SetAnswer(key chat.SessionKey, answer chat.Answer) {
	prev := h.store.swapPending(key, &answer)
	if prev != nil {
		h.metrics.answerOverwritten()
		log.Printf("[compose] session=%s turn=%s unread answer replaced by turn=%s", key, prev.TurnID, answer.TurnID)
	}
}

// PopAnswer takes the pending answer for key, if one is waiting.
func (h *Handoff) PopAnswer(key chat.SessionKey) (chat.Answer, bool) {
	pending := h.store.takePending(key)
	if pending == nil {
		return chat.Answer{}, false
	}
	h.metrics.answerDelivered()
	return *pending, true
}
