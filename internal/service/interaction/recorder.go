package interaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
)

// JSONLRecorder appends each interaction as one JSON object per line.
type JSONLRecorder struct {
	mu   sync.Mutex
	path string
}

// NewJSONLRecorder creates a recorder writing to path. The parent directory is
// created if missing; the file itself is opened per write.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if path == "" {
		return nil, fmt.Errorf("interaction log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create interaction log dir: %w", err)
		}
	}
	return &JSONLRecorder{path: path}, nil
}

// Path returns the log file location.
func (r *JSONLRecorder) Path() string {
	return r.path
}

// Record appends interaction to the log. Failures are logged, never returned.
func (r *JSONLRecorder) Record(_ context.Context, interaction chat.Interaction) {
	if err := r.append(interaction); err != nil {
		log.Printf("[interaction] failed to record turn=%s: %v", interaction.TurnID, err)
	}
}

func (r *JSONLRecorder) append(interaction chat.Interaction) error {
	line, err := json.Marshal(interaction)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open interaction log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write interaction log: %w", err)
	}
	return f.Close()
}

// NopRecorder discards interactions.
type NopRecorder struct{}

// Record implements the recorder contract by doing nothing.
func (NopRecorder) Record(context.Context, chat.Interaction) {}
