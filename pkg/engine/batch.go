package engine

import "github.com/papersift/llm-engine/pkg/paper"

// batch is one contiguous slice of the input, addressed back into the
// results array by its start offset.
type batch struct {
	index int
	start int
	ids   []string
}

// partition splits n papers into contiguous batches of size (last short).
// 45 papers at size 20 yield batches of 20, 20 and 5.
func partition(papers []paper.Paper, size int) []batch {
	batches := make([]batch, 0, (len(papers)+size-1)/size)
	for start := 0; start < len(papers); start += size {
		end := start + size
		if end > len(papers) {
			end = len(papers)
		}
		ids := make([]string, 0, end-start)
		for _, p := range papers[start:end] {
			ids = append(ids, p.ID)
		}
		batches = append(batches, batch{
			index: len(batches),
			start: start,
			ids:   ids,
		})
	}
	return batches
}
