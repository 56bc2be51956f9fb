package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/retriever"

	"github.com/zhouzirui/handbook-assistant/backend/internal/model/handbook"
)

func writePage(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}
}

func TestMarkdownToText(t *testing.T) {
	md := "# Leave Policy\n\n**Annual leave** is [12 days](https://hr.example.com).\n\n- Sick leave: `5 days`\n> Ask HR first.\n"
	text := MarkdownToText(md)

	for _, want := range []string{"Leave Policy", "Annual leave is 12 days.", "Sick leave: 5 days", "Ask HR first."} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in rendered text:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{"#", "**", "](", "`", "> "} {
		if strings.Contains(text, unwanted) {
			t.Fatalf("markdown syntax %q survived:\n%s", unwanted, text)
		}
	}
}

func TestChunkTextRespectsLimit(t *testing.T) {
	text := "aaaa\n\nbbbb\ncccc\n   \ndddd"
	chunks := ChunkText(text, 10)

	want := []string{"aaaa\nbbbb", "cccc\ndddd"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %q", len(want), len(chunks), chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkTextKeepsOversizedParagraph(t *testing.T) {
	chunks := ChunkText("short\n"+strings.Repeat("x", 30)+"\ntail", 10)
	if len(chunks) != 3 || len(chunks[1]) != 30 {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestLoadPages(t *testing.T) {
	dir := t.TempDir()
	writePage(t, dir, "leave.md", "# Leave\nAnnual leave is 12 days per year.")
	writePage(t, dir, "it/laptop.md", "# Laptop\nLaptops are replaced every three years.")
	writePage(t, dir, "notes.txt", "ignored")

	passages, err := LoadPages(dir, 0)
	if err != nil {
		t.Fatalf("LoadPages err: %v", err)
	}
	if len(passages) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(passages))
	}

	byFile := map[string]handbook.Passage{}
	for _, p := range passages {
		byFile[p.SourceFile] = p
	}
	laptop, ok := byFile["it/laptop.md"]
	if !ok {
		t.Fatalf("missing nested page, got %+v", passages)
	}
	if laptop.Title != "laptop" || laptop.Section != "it" {
		t.Fatalf("unexpected metadata %+v", laptop)
	}
	if byFile["leave.md"].Section != "root" {
		t.Fatalf("top-level pages belong to root, got %q", byFile["leave.md"].Section)
	}

	again, _ := LoadPages(dir, 0)
	if again[0].ID != passages[0].ID {
		t.Fatal("passage ids must be stable across loads")
	}
}

func TestLoadPagesMissingDir(t *testing.T) {
	if _, err := LoadPages(filepath.Join(t.TempDir(), "nope"), 0); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func newTestRetriever(topK int) *Retriever {
	store := handbook.NewMemoryStore([]handbook.Passage{
		{ID: "leave", Title: "leave", Section: "hr", SourceFile: "hr/leave.md", Text: "Annual leave policy: employees get 12 days of paid leave."},
		{ID: "laptop", Title: "laptop", Section: "it", SourceFile: "it/laptop.md", Text: "Laptops are replaced every three years."},
		{ID: "travel", Title: "travel", Section: "finance", SourceFile: "finance/travel.md", Text: "Travel expenses need manager approval before booking."},
	})
	return NewRetriever(store, topK)
}

func TestRetrieveRanksByOverlap(t *testing.T) {
	r := newTestRetriever(0)

	docs, err := r.Retrieve(context.Background(), "What is the leave policy?")
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "leave" {
		t.Fatalf("expected only the leave passage, got %+v", docs)
	}
	if docs[0].Score() <= 0 {
		t.Fatalf("expected positive score, got %f", docs[0].Score())
	}
	if docs[0].MetaData["source_file"] != "hr/leave.md" {
		t.Fatalf("metadata not propagated: %+v", docs[0].MetaData)
	}
}

func TestRetrieveHonorsTopKOption(t *testing.T) {
	r := newTestRetriever(5)

	docs, err := r.Retrieve(context.Background(), "leave laptops travel", retriever.WithTopK(2))
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestRetrieveNoMatch(t *testing.T) {
	r := newTestRetriever(0)
	docs, err := r.Retrieve(context.Background(), "what is the")
	if err != nil {
		t.Fatalf("Retrieve err: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
}
