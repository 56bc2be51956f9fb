package interaction_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/chat"
	"github.com/zhouzirui/handbook-assistant/backend/internal/service/interaction"
)

func TestJSONLRecorderAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chat_logs.jsonl")
	rec, err := interaction.NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder err: %v", err)
	}

	ctx := context.Background()
	rec.Record(ctx, chat.Interaction{Timestamp: time.Unix(0, 0).UTC(), TurnID: "t1", Question: "Xin chào?", Answer: "Chào bạn"})
	rec.Record(ctx, chat.Interaction{Timestamp: time.Unix(1, 0).UTC(), TurnID: "t2", Question: "q2", Answer: "a2"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []chat.Interaction
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry chat.Interaction
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("invalid json line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(entries))
	}
	if entries[0].Question != "Xin chào?" || entries[1].TurnID != "t2" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestNewJSONLRecorderRequiresPath(t *testing.T) {
	if _, err := interaction.NewJSONLRecorder(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestJSONLRecorderSwallowsWriteErrors(t *testing.T) {
	dir := t.TempDir()
	rec, err := interaction.NewJSONLRecorder(dir)
	if err != nil {
		t.Fatalf("NewJSONLRecorder err: %v", err)
	}
	// Writing to a directory fails; Record must not panic or block.
	rec.Record(context.Background(), chat.Interaction{TurnID: "t1"})
}
