package disease

import (
	"bytes"
	"fmt"
	"os"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"

	"github.com/genomic/genomic/internal/platform/align"
)

// readReference returns the cleaned residues of a reference FASTA file. Every
// record is concatenated in file order, and a file without a header line is
// read as a single unnamed record.
func readReference(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '>' {
		raw = append([]byte(">reference\n"), raw...)
	}

	var residues []byte
	sc := seqio.NewScanner(fasta.NewReader(bytes.NewReader(raw), linear.NewSeq("", nil, alphabet.DNA)))
	for sc.Next() {
		s, ok := sc.Seq().(*linear.Seq)
		if !ok {
			return "", fmt.Errorf("reference %s: unexpected sequence type %T", path, sc.Seq())
		}
		for _, l := range s.Seq {
			residues = append(residues, byte(l))
		}
	}
	if err := sc.Error(); err != nil {
		return "", fmt.Errorf("read reference %s: %w", path, err)
	}
	return string(align.Clean(string(residues))), nil
}
