// Package fasta validates single-record FASTA payloads and derives the values
// stored alongside them (checksum, identifier, bare sequence).
package fasta

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalid  = errors.New("invalid fasta")
	ErrTooLarge = errors.New("sequence exceeds maximum size")
)

// DefaultMaxSize is the sequence size ceiling applied on create and update (10 MB).
const DefaultMaxSize = 10 * 1024 * 1024

var sequenceLine = regexp.MustCompile(`^[ACGTN]+$`)

// Validate checks that text is a header line starting with '>' followed by a
// non-empty identifier, then one or more lines of upper-case nucleotides.
// Trailing blank lines are ignored; blank lines in between are not.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalid)
	}

	lines := splitLines(text)
	if len(lines) < 2 {
		return fmt.Errorf("%w: at least 2 lines required", ErrInvalid)
	}

	header := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(header, ">") {
		return fmt.Errorf("%w: header must start with '>'", ErrInvalid)
	}
	if len(header) == 1 {
		return fmt.Errorf("%w: header must have an identifier after '>'", ErrInvalid)
	}

	for i, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if !sequenceLine.MatchString(line) {
			return fmt.Errorf("%w: line %d contains invalid characters: %q", ErrInvalid, i+2, truncate(line, 40))
		}
	}
	return nil
}

// ValidateSize rejects payloads above max bytes. A non-positive max disables
// the check.
func ValidateSize(size int64, max int64) error {
	if max > 0 && size > max {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, size, max)
	}
	return nil
}

// Checksum returns the hex-encoded SHA-256 of text.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Identifier returns the header identifier without the leading '>'.
func Identifier(text string) string {
	lines := splitLines(text)
	if len(lines) == 0 {
		return "unknown"
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[0]), ">"))
}

// Sequence strips header lines and line breaks, returning the bare residues.
func Sequence(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, ">") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// splitLines splits on '\n' and drops trailing empty lines.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
