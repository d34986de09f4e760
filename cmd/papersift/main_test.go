package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/papersift/llm-engine/pkg/paper"
)

func TestReadPrompt(t *testing.T) {
	t.Run("inline", func(t *testing.T) {
		got, err := readPrompt("include ML papers")
		if err != nil {
			t.Fatalf("readPrompt() error = %v", err)
		}
		if got != "include ML papers" {
			t.Errorf("readPrompt() = %q", got)
		}
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "prompt.txt")
		if err := os.WriteFile(path, []byte("include ML papers\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := readPrompt("@" + path)
		if err != nil {
			t.Fatalf("readPrompt() error = %v", err)
		}
		if got != "include ML papers" {
			t.Errorf("readPrompt() = %q", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := readPrompt("@/does/not/exist"); err == nil {
			t.Error("readPrompt() should fail for a missing file")
		}
	})
}

func TestReadPapers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papers.json")
	body := `[{"id": "p1", "title": "A Study", "year": 2024}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	papers, err := readPapers(path)
	if err != nil {
		t.Fatalf("readPapers() error = %v", err)
	}
	if len(papers) != 1 || papers[0].ID != "p1" || papers[0].Year != 2024 {
		t.Errorf("readPapers() = %+v", papers)
	}

	if _, err := readPapers(""); err == nil {
		t.Error("readPapers() should require a path")
	}
}

func TestWritePapers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	in := []paper.Paper{{ID: "p1", Title: "A Study", Included: true}}

	if err := writePapers(path, in); err != nil {
		t.Fatalf("writePapers() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out []paper.Paper
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(out) != 1 || !out[0].Included {
		t.Errorf("round-tripped papers = %+v", out)
	}
}
