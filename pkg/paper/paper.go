// Package paper defines the screening data model shared between the
// engine and its callers.
package paper

// Paper is a single academic paper moving through the screening pipeline.
// Inclusion/Exclusion stay nil until the corresponding filter pass has
// annotated the paper; Included and ExclusionReason are derived during
// finalization.
type Paper struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Year     int      `json:"year,omitempty"`
	Authors  []string `json:"authors,omitempty"`

	Inclusion          *bool  `json:"inclusion"`
	InclusionReasoning string `json:"inclusionReasoning,omitempty"`
	Exclusion          *bool  `json:"exclusion"`
	ExclusionReasoning string `json:"exclusionReasoning,omitempty"`

	Included        bool    `json:"included"`
	ExclusionReason *string `json:"exclusionReason"`
}

// Finalize derives the combined decision from the two independent filter
// passes: a paper is included when the inclusion criterion matched and the
// exclusion criterion did not. When the exclusion flag is what keeps the
// paper out, ExclusionReason carries the exclusion reasoning text.
func (p *Paper) Finalize() {
	included := p.Inclusion != nil && *p.Inclusion
	excluded := p.Exclusion != nil && *p.Exclusion

	p.Included = included && !excluded

	if excluded {
		reason := p.ExclusionReasoning
		p.ExclusionReason = &reason
	} else {
		p.ExclusionReason = nil
	}
}

// FinalizeAll runs Finalize over every paper in place.
func FinalizeAll(papers []Paper) {
	for i := range papers {
		papers[i].Finalize()
	}
}
