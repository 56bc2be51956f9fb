package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/handbook-assistant/backend/internal/service/chat"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted map[string][]string
	results   map[string]chatservice.PollResult
	history   map[string][]chat.Turn
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		submitted: make(map[string][]string),
		results:   make(map[string]chatservice.PollResult),
		history:   make(map[string][]chat.Turn),
	}
}

func (f *fakeEngine) Submit(_ context.Context, key chat.SessionKey, text string) (chatservice.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted[key] = append(f.submitted[key], text)
	return chatservice.Ack{SessionKey: key, TurnID: "turn-1", ReceivedAt: time.Now()}, nil
}

func (f *fakeEngine) Poll(_ context.Context, key chat.SessionKey) chatservice.PollResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[key]
	if !ok {
		return chatservice.PollResult{Status: chatservice.StatusUnknown}
	}
	delete(f.results, key)
	return result
}

func (f *fakeEngine) History(_ context.Context, key chat.SessionKey) []chat.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[key]
}

func setupRouter(engine Engine) *chi.Mux {
	r := chi.NewRouter()
	New(engine).RegisterRoutes(r)
	return r
}

func decodeResult(t *testing.T, resp *httptest.ResponseRecorder) ResultResponse {
	t.Helper()
	var body ResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestQueryAccepted(t *testing.T) {
	engine := newFakeEngine()
	r := setupRouter(engine)

	payload, _ := json.Marshal(map[string]string{"user_id": "u1", "chat_id": "c1", "question": "What is"})
	req := httptest.NewRequest(http.MethodPost, "/chatbot_query", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
	var body queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "queued" || body.SessionKey != "u1:c1" || body.TurnID != "turn-1" {
		t.Fatalf("unexpected body %+v", body)
	}
	if got := engine.submitted["u1:c1"]; len(got) != 1 || got[0] != "What is" {
		t.Fatalf("unexpected submissions %v", got)
	}
}

func TestQueryMissingIdentifiers(t *testing.T) {
	r := setupRouter(newFakeEngine())

	req := httptest.NewRequest(http.MethodPost, "/chatbot_query", bytes.NewReader([]byte(`{"user_id":"u1","question":"hi"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestQueryInvalidBody(t *testing.T) {
	r := setupRouter(newFakeEngine())

	for _, body := range []string{"", "{not json"} {
		req := httptest.NewRequest(http.MethodPost, "/chatbot_query", bytes.NewReader([]byte(body)))
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
	}
}

func TestUnavailableWithoutEngine(t *testing.T) {
	r := setupRouter(nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/chatbot_query", bytes.NewReader([]byte(`{}`))),
		httptest.NewRequest(http.MethodGet, "/chatbot_result/u1/c1", nil),
		httptest.NewRequest(http.MethodGet, "/chatbot_history/u1/c1", nil),
	} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected 503, got %d", req.Method, req.URL.Path, resp.Code)
		}
	}
}

func TestResultStates(t *testing.T) {
	engine := newFakeEngine()
	r := setupRouter(engine)

	get := func() ResultResponse {
		req := httptest.NewRequest(http.MethodGet, "/chatbot_result/u1/c1", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
		return decodeResult(t, resp)
	}

	if body := get(); body.Status != "pending" || body.Answer != chat.WaitingMessage {
		t.Fatalf("unknown session should look pending, got %+v", body)
	}

	engine.results["u1:c1"] = chatservice.PollResult{
		Status: chatservice.StatusReady,
		Answer: chat.Answer{TurnID: "t1", Text: "Leave is 12 days."},
	}
	if body := get(); body.Status != "ready" || body.Answer != "Leave is 12 days." || body.TurnID != "t1" {
		t.Fatalf("unexpected ready body %+v", body)
	}
	if body := get(); body.Status != "pending" {
		t.Fatalf("answer must be delivered once, got %+v", body)
	}

	engine.results["u1:c1"] = chatservice.PollResult{
		Status: chatservice.StatusFailed,
		Answer: chat.Answer{TurnID: "t2", Failed: true, Err: "boom"},
	}
	if body := get(); body.Status != "failed" || body.Answer != chat.ResendMessage || body.Error != "boom" {
		t.Fatalf("unexpected failed body %+v", body)
	}
}

func TestHistory(t *testing.T) {
	engine := newFakeEngine()
	engine.history["u1:c1"] = []chat.Turn{{Question: "q1", Answer: "a1"}}
	r := setupRouter(engine)

	req := httptest.NewRequest(http.MethodGet, "/chatbot_history/u1/c1", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var body struct {
		History []chat.Turn `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.History) != 1 || body.History[0].Answer != "a1" {
		t.Fatalf("unexpected history %+v", body.History)
	}

	req = httptest.NewRequest(http.MethodGet, "/chatbot_history/u2/c2", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if got := resp.Body.String(); got != "{\"history\":[]}\n" {
		t.Fatalf("expected empty history array, got %q", got)
	}
}
