package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

// DefaultHistoryLimit caps the number of past turns kept per session.
const DefaultHistoryLimit = 5

// Store is the authoritative map from session key to session state.
// The map lock is held only for lookup/insert; each session carries its own
// mutex so unrelated sessions never serialize on each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[chat.SessionKey]*entry

	historyLimit int

	// now and newID are injectable for deterministic testing.
	now   func() time.Time
	newID func() string
}

type entry struct {
	mu       sync.Mutex
	state    chat.SessionState
	lastSeen time.Time
	// inFlight counts drained turns whose finalization has not finished.
	inFlight int
	// deferred marks a composed turn whose window closed while another turn
	// was in flight. finishTurn hands it over once the session is free.
	deferred bool
	removed  bool
}

// DrainOutcome reports what DrainIfIdle did.
type DrainOutcome int

const (
	// DrainStale means a newer fragment arrived or nothing was composed.
	DrainStale DrainOutcome = iota
	// DrainDeferred means the turn is complete but another turn is in flight.
	DrainDeferred
	// Drained means the question was taken and is now in flight.
	Drained
)

// NewStore creates an empty store. historyLimit <= 0 selects DefaultHistoryLimit.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		sessions:     make(map[chat.SessionKey]*entry),
		historyLimit: historyLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

func (s *Store) lookup(key chat.SessionKey) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[key]
}

func (s *Store) getOrCreate(key chat.SessionKey) *entry {
	if e := s.lookup(key); e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[key]; ok {
		return e
	}
	e := &entry{lastSeen: s.now()}
	s.sessions[key] = e
	return e
}

// lockLive returns the locked entry for key, creating it when needed. An entry
// pruned between lookup and lock is skipped in favor of a fresh one.
func (s *Store) lockLive(key chat.SessionKey) *entry {
	for {
		e := s.getOrCreate(key)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// AppendFragment adds a fragment to the session's composing turn and returns
// the turn id together with the stamp written into LastUpdate.
//
// A whitespace-only fragment leaves the buffer untouched. It still refreshes
// the stamp of a turn in progress; on an idle session it returns a zero stamp
// and an empty turn id. Any pending answer is discarded either way.
func (s *Store) AppendFragment(key chat.SessionKey, text string) (string, time.Time) {
	e := s.lockLive(key)
	defer e.mu.Unlock()

	now := s.now()
	e.lastSeen = now
	e.state.Pending = nil
	e.deferred = false

	fragment := strings.TrimSpace(text)
	if fragment == "" && e.state.Buffer == "" {
		return "", time.Time{}
	}

	if e.state.Buffer == "" {
		e.state.TurnID = s.newID()
		e.state.Buffer = fragment
	} else if fragment != "" {
		e.state.Buffer += " " + fragment
	}

	// Stamps must strictly increase so a later fragment always invalidates
	// checks armed for earlier ones, even on a coarse clock.
	if !now.After(e.state.LastUpdate) {
		now = e.state.LastUpdate.Add(time.Nanosecond)
	}
	e.state.LastUpdate = now

	return e.state.TurnID, now
}

// ReadState returns a snapshot of the session state.
func (s *Store) ReadState(key chat.SessionKey) (chat.SessionState, bool) {
	e := s.lookup(key)
	if e == nil {
		return chat.SessionState{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), true
}

// DrainBuffer atomically takes the composed question and resets the turn.
// It reports false when the session is unknown or nothing is being composed.
func (s *Store) DrainBuffer(key chat.SessionKey) (string, string, bool) {
	e := s.lookup(key)
	if e == nil {
		return "", "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainLocked()
}

// DrainIfIdle drains the buffer only if no fragment was stamped after since
// and no other turn of the session is in flight. The compare and the drain
// happen under the same session lock. A complete turn that has to wait for
// the in-flight one is marked deferred and released by finishTurn.
func (s *Store) DrainIfIdle(key chat.SessionKey, since time.Time) (string, string, DrainOutcome) {
	e := s.lookup(key)
	if e == nil {
		return "", "", DrainStale
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.LastUpdate.After(since) || strings.TrimSpace(e.state.Buffer) == "" {
		return "", "", DrainStale
	}
	if e.inFlight > 0 {
		e.deferred = true
		return "", "", DrainDeferred
	}

	question, turnID, _ := e.drainLocked()
	return question, turnID, Drained
}

func (e *entry) drainLocked() (string, string, bool) {
	question := strings.TrimSpace(e.state.Buffer)
	turnID := e.state.TurnID

	e.state.Buffer = ""
	e.state.LastUpdate = time.Time{}
	e.state.TurnID = ""
	e.deferred = false

	if question == "" {
		return "", "", false
	}
	e.inFlight++
	return question, turnID, true
}

// LastUpdate returns the session's most recent stamp, or the zero time when
// the session is idle or unknown.
func (s *Store) LastUpdate(key chat.SessionKey) time.Time {
	e := s.lookup(key)
	if e == nil {
		return time.Time{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LastUpdate
}

// AppendHistory records a completed turn, evicting the oldest beyond the limit.
func (s *Store) AppendHistory(key chat.SessionKey, question, answer string) {
	e := s.lockLive(key)
	defer e.mu.Unlock()

	e.state.History = append(e.state.History, chat.Turn{Question: question, Answer: answer})
	if overflow := len(e.state.History) - s.historyLimit; overflow > 0 {
		e.state.History = append([]chat.Turn(nil), e.state.History[overflow:]...)
	}
}

// History returns a copy of the session's recent turns, oldest first.
func (s *Store) History(key chat.SessionKey) []chat.Turn {
	e := s.lookup(key)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]chat.Turn(nil), e.state.History...)
}

// finishTurn releases one in-flight turn. When that leaves the session free
// and a deferred turn is waiting, the deferred turn is drained and returned so
// the caller can finalize it next.
func (s *Store) finishTurn(key chat.SessionKey) (string, string, bool) {
	e := s.lookup(key)
	if e == nil {
		return "", "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight > 0 {
		e.inFlight--
	}
	e.lastSeen = s.now()

	if e.inFlight > 0 || !e.deferred {
		return "", "", false
	}
	return e.drainLocked()
}

// Prune removes sessions that are idle, have nothing in flight and were last
// touched more than maxIdle ago. It returns the number of sessions removed.
func (s *Store) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	pruned := 0
	for key, e := range s.sessions {
		e.mu.Lock()
		expired := e.state.Buffer == "" && e.inFlight == 0 && now.Sub(e.lastSeen) > maxIdle
		if expired {
			e.removed = true
		}
		e.mu.Unlock()
		if expired {
			delete(s.sessions, key)
			pruned++
		}
	}
	return pruned
}

// swapPending replaces the pending answer and returns the previous one.
func (s *Store) swapPending(key chat.SessionKey, answer *chat.Answer) *chat.Answer {
	e := s.lockLive(key)
	defer e.mu.Unlock()

	prev := e.state.Pending
	e.state.Pending = answer
	return prev
}

// takePending clears and returns the pending answer, if any.
func (s *Store) takePending(key chat.SessionKey) *chat.Answer {
	e := s.lookup(key)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.state.Pending
	e.state.Pending = nil
	if pending != nil {
		e.lastSeen = s.now()
	}
	return pending
}

// Len returns the number of known sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Exists reports whether the session has ever been seen (and not pruned).
func (s *Store) Exists(key chat.SessionKey) bool {
	return s.lookup(key) != nil
}
