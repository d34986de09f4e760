package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is one per-paper decision decoded from a filter reply.
type Verdict struct {
	ID        string `json:"id"`
	Decision  bool   `json:"decision"`
	Reasoning string `json:"reasoning"`
}

// DecodeVerdicts parses a structured filter reply and validates it against
// the batch. The contract is fail-closed: every requested paper ID must be
// present exactly once and no unknown IDs may appear, otherwise the whole
// reply is rejected with ErrMalformedResponse and the caller decides whether
// to re-prompt.
//
// Two reply shapes are accepted: the schema-constrained array form
// [{"id":..,"decision":..,"reasoning":..}] and the map form
// {"<id>": {"decision":..,"reasoning":..}} that models occasionally emit
// despite the schema.
func DecodeVerdicts(raw string, ids []string) (map[string]Verdict, error) {
	trimmed := stripFences(raw)
	if trimmed == "" {
		return nil, &CallError{Class: ClassMalformed, Message: "empty reply"}
	}

	verdicts, err := decodeAny(trimmed)
	if err != nil {
		return nil, &CallError{Class: ClassMalformed, Message: err.Error(), Err: err}
	}

	byID := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		if _, dup := byID[v.ID]; dup {
			return nil, &CallError{Class: ClassMalformed, Message: fmt.Sprintf("duplicate verdict for paper %q", v.ID)}
		}
		byID[v.ID] = v
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
		if _, ok := byID[id]; !ok {
			return nil, &CallError{Class: ClassMalformed, Message: fmt.Sprintf("missing verdict for paper %q", id)}
		}
	}
	for id := range byID {
		if _, ok := want[id]; !ok {
			return nil, &CallError{Class: ClassMalformed, Message: fmt.Sprintf("verdict for unknown paper %q", id)}
		}
	}

	return byID, nil
}

func decodeAny(raw string) ([]Verdict, error) {
	if strings.HasPrefix(raw, "[") {
		var arr []Verdict
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return nil, fmt.Errorf("decode array form: %w", err)
		}
		return arr, nil
	}

	var byID map[string]struct {
		Decision  bool   `json:"decision"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &byID); err != nil {
		return nil, fmt.Errorf("decode map form: %w", err)
	}
	verdicts := make([]Verdict, 0, len(byID))
	for id, v := range byID {
		verdicts = append(verdicts, Verdict{ID: id, Decision: v.Decision, Reasoning: v.Reasoning})
	}
	return verdicts, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag. Structured output mode should never produce one, but raw
// prompting occasionally does.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && !strings.HasPrefix(s, "[") && !strings.HasPrefix(s, "{") {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
