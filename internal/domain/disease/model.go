package disease

import "fmt"

// Disease is one entry of the reference catalog.
type Disease struct {
	ID            string `json:"diseaseId"`
	Name          string `json:"name"`
	Severity      int    `json:"severity"`
	FastaFilename string `json:"fastaFilename"`
}

// MatchResult is a catalog entry whose reference sequence aligned with a
// patient sequence at or above the screening threshold.
type MatchResult struct {
	Disease     *Disease `json:"disease"`
	Similarity  float64  `json:"similarity"`
	Description string   `json:"description"`
}

// NewMatchResult builds a MatchResult with its generated description.
func NewMatchResult(d *Disease, similarity float64) MatchResult {
	return MatchResult{
		Disease:     d,
		Similarity:  similarity,
		Description: Describe(d, similarity),
	}
}

// Describe renders the human-readable summary stored in the detection report.
func Describe(d *Disease, similarity float64) string {
	return fmt.Sprintf("Genomic similarity (%.2f%%) detected with %s (Severity: %d/10)",
		similarity*100, d.Name, d.Severity)
}
