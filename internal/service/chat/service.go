package chat

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

var (
	ErrSessionKeyRequired = errors.New("session key is required")
	ErrGeneratorRequired  = errors.New("answer generator is required")
)

// Generator produces an answer for a finalized question given recent history.
type Generator interface {
	Generate(ctx context.Context, question string, history []chat.Turn) (string, error)
}

// Recorder persists finalized interactions. Implementations handle their own
// failures; the engine never surfaces them.
type Recorder interface {
	Record(ctx context.Context, interaction chat.Interaction)
}

// PollStatus describes the outcome of a poll.
type PollStatus string

const (
	StatusReady   PollStatus = "ready"
	StatusPending PollStatus = "pending"
	StatusFailed  PollStatus = "failed"
	StatusUnknown PollStatus = "unknown"
)

// PollResult is returned by Poll. Answer is set for ready and failed results.
type PollResult struct {
	Status PollStatus
	Answer chat.Answer
}

// Ack acknowledges an accepted fragment.
type Ack struct {
	SessionKey string    `json:"sessionKey"`
	TurnID     string    `json:"turnId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Config tunes the compose engine.
type Config struct {
	ComposeWindow     time.Duration
	HistoryLimit      int
	GenerationTimeout time.Duration
}

// Service composes fragments into turns, finalizes them after a quiet
// window and hands answers to pollers.
type Service struct {
	store     *Store
	scheduler *Scheduler
	handoff   *Handoff
	generator Generator
	recorder  Recorder
	metrics   *Metrics
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder sets the interaction recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStore uses a preconstructed store, e.g. one shared with a metrics gauge.
func WithStore(store *Store) Option {
	return func(s *Service) { s.store = store }
}

// NewService wires the store, scheduler and handoff around generator.
func NewService(generator Generator, cfg Config, opts ...Option) (*Service, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		generator: generator,
		recorder:  nopRecorder{},
		timeout:   cfg.GenerationTimeout,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.store == nil {
		svc.store = NewStore(cfg.HistoryLimit)
	}
	svc.handoff = NewHandoff(svc.store, svc.metrics)
	svc.scheduler = NewScheduler(svc.store, cfg.ComposeWindow, svc.finalize, svc.metrics)
	return svc, nil
}

// Store exposes the underlying session store.
func (s *Service) Store() *Store {
	return s.store
}

// Submit accepts a fragment for key and arms a finalize check. It never
// waits for an answer.
func (s *Service) Submit(_ context.Context, key chat.SessionKey, text string) (Ack, error) {
	if key == "" {
		return Ack{}, ErrSessionKeyRequired
	}

	turnID, stamp := s.store.AppendFragment(key, text)
	s.metrics.fragment()
	if !stamp.IsZero() {
		s.scheduler.Arm(key, stamp)
	}

	return Ack{SessionKey: key, TurnID: turnID, ReceivedAt: time.Now().UTC()}, nil
}

// Poll returns the pending answer for key without blocking.
func (s *Service) Poll(_ context.Context, key chat.SessionKey) PollResult {
	answer, ok := s.handoff.PopAnswer(key)
	switch {
	case ok && answer.Failed:
		return PollResult{Status: StatusFailed, Answer: answer}
	case ok:
		return PollResult{Status: StatusReady, Answer: answer}
	case s.store.Exists(key):
		return PollResult{Status: StatusPending}
	default:
		return PollResult{Status: StatusUnknown}
	}
}

// History returns the session's recent turns, oldest first.
func (s *Service) History(_ context.Context, key chat.SessionKey) []chat.Turn {
	return s.store.History(key)
}

// Close stops pending checks, cancels in-flight generations and waits for
// running finalizations to return.
func (s *Service) Close() {
	s.cancel()
	s.scheduler.Close()
}

// finalize answers the drained turn, then any turn that was deferred behind it,
// so a session never has two generations running at once.
func (s *Service) finalize(key chat.SessionKey, question, turnID string) {
	for {
		s.answer(key, question, turnID)

		var ok bool
		question, turnID, ok = s.store.finishTurn(key)
		if !ok {
			return
		}
		s.metrics.turnFinalized()
		log.Printf("[compose] session=%s releasing deferred turn=%s", key, turnID)
	}
}

func (s *Service) answer(key chat.SessionKey, question, turnID string) {
	history := s.store.History(key)

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Printf("[compose] finalizing session=%s turn=%s question=%q", key, turnID, question)

	started := time.Now()
	answerText, err := s.generator.Generate(ctx, question, history)
	s.metrics.generation(time.Since(started), err)

	now := time.Now().UTC()
	if err != nil {
		log.Printf("[compose] generation failed session=%s turn=%s: %v", key, turnID, err)
		s.handoff.SetAnswer(key, chat.Answer{
			TurnID:    turnID,
			Question:  question,
			Failed:    true,
			Err:       err.Error(),
			CreatedAt: now,
		})
		return
	}

	s.store.AppendHistory(key, question, answerText)
	s.handoff.SetAnswer(key, chat.Answer{
		TurnID:    turnID,
		Question:  question,
		Text:      answerText,
		CreatedAt: now,
	})

	s.recorder.Record(ctx, chat.Interaction{
		Timestamp:  now,
		SessionKey: key,
		TurnID:     turnID,
		Question:   question,
		Answer:     answerText,
	})
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, chat.Interaction) {}
