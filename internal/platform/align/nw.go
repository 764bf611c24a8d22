// Package align scores nucleotide sequences against each other with a global
// (Needleman-Wunsch) alignment.
package align

const (
	// MatchScore is awarded when both aligned residues are equal.
	MatchScore = 1

	// MismatchScore is applied when the aligned residues differ.
	MismatchScore = -1

	// GapPenalty is applied for every residue aligned against a gap.
	GapPenalty = -2
)

// Similarity returns the global alignment similarity of a and b in [0, 1].
//
// Both inputs are reduced to the {A,C,G,T,N} alphabet first.
// The optimal alignment score S is normalised as
//
//	(S - |n-m|*GapPenalty) / (min(n,m)*MatchScore)
//
// and clamped. Either sequence being empty after cleaning yields 0.
func Similarity(a, b string) float64 {
	s1, s2 := Clean(a), Clean(b)
	n, m := len(s1), len(s2)
	if n == 0 || m == 0 {
		return 0
	}

	score := Score(s1, s2)

	shorter, diff := n, m-n
	if m < n {
		shorter, diff = m, n-m
	}
	sim := float64(score-diff*GapPenalty) / float64(shorter*MatchScore)

	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}

// Score returns the optimal global alignment score of two already cleaned
// sequences. Only the final cell is needed, so the matrix is filled with two
// rolling rows; the result is identical to the full (n+1)x(m+1) table.
func Score(s1, s2 []byte) int {
	n, m := len(s1), len(s2)

	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for j := 0; j <= m; j++ {
		prev[j] = j * GapPenalty
	}

	for i := 1; i <= n; i++ {
		cur[0] = i * GapPenalty
		for j := 1; j <= m; j++ {
			diag := prev[j-1] + MismatchScore
			if s1[i-1] == s2[j-1] {
				diag = prev[j-1] + MatchScore
			}
			up := prev[j] + GapPenalty
			left := cur[j-1] + GapPenalty

			best := diag
			if up > best {
				best = up
			}
			if left > best {
				best = left
			}
			cur[j] = best
		}
		prev, cur = cur, prev
	}
	return prev[m]
}

// Clean drops every byte outside {A,C,G,T,N}. Lower-case residues are not
// part of the alphabet and are dropped as well.
func Clean(seq string) []byte {
	out := make([]byte, 0, len(seq))
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		switch c {
		case 'A', 'C', 'G', 'T', 'N':
			out = append(out, c)
		}
	}
	return out
}

// PotentialMatch is the cheap length pre-filter applied before alignment: a
// patient sequence shorter than half the reference can never be reported.
func PotentialMatch(patientLen, referenceLen int) bool {
	return float64(patientLen) >= float64(referenceLen)*0.5
}
