package engine

import (
	"fmt"
	"testing"

	"github.com/papersift/llm-engine/pkg/paper"
)

func makePapers(n int) []paper.Paper {
	papers := make([]paper.Paper, n)
	for i := range papers {
		papers[i] = paper.Paper{
			ID:    fmt.Sprintf("p%03d", i),
			Title: fmt.Sprintf("Paper %d", i),
		}
	}
	return papers
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name      string
		papers    int
		size      int
		wantSizes []int
	}{
		{"even split", 40, 20, []int{20, 20}},
		{"short last batch", 45, 20, []int{20, 20, 5}},
		{"single short batch", 5, 20, []int{5}},
		{"batch size one", 3, 1, []int{1, 1, 1}},
		{"empty input", 0, 20, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := partition(makePapers(tt.papers), tt.size)
			if len(batches) != len(tt.wantSizes) {
				t.Fatalf("got %d batches, want %d", len(batches), len(tt.wantSizes))
			}
			start := 0
			for i, b := range batches {
				if len(b.ids) != tt.wantSizes[i] {
					t.Errorf("batch %d size = %d, want %d", i, len(b.ids), tt.wantSizes[i])
				}
				if b.start != start {
					t.Errorf("batch %d start = %d, want %d", i, b.start, start)
				}
				if b.index != i {
					t.Errorf("batch %d index = %d", i, b.index)
				}
				start += len(b.ids)
			}
		})
	}
}

func TestPartition_ContiguousIDs(t *testing.T) {
	papers := makePapers(45)
	batches := partition(papers, 20)

	var all []string
	for _, b := range batches {
		all = append(all, b.ids...)
	}
	if len(all) != 45 {
		t.Fatalf("got %d ids, want 45", len(all))
	}
	for i, id := range all {
		if id != papers[i].ID {
			t.Errorf("id %d = %s, want %s (order not preserved)", i, id, papers[i].ID)
		}
	}
}
