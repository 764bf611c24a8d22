package fasta

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid", input: ">x\nACGT\n"},
		{name: "valid without trailing newline", input: ">seq1 human\nACGTN\nGGCC"},
		{name: "valid with CRLF", input: ">x\r\nACGT\r\n"},
		{name: "invalid residue", input: ">x\nACGQ\n", wantErr: "invalid characters"},
		{name: "lower case residue", input: ">x\nacgt\n", wantErr: "invalid characters"},
		{name: "single line", input: ">onlyheader", wantErr: "at least 2 lines"},
		{name: "missing header marker", input: "noheader\nACGT", wantErr: "must start with '>'"},
		{name: "empty identifier", input: ">\nACGT", wantErr: "identifier"},
		{name: "blank line inside", input: ">x\nACGT\n\nACGT", wantErr: "invalid characters"},
		{name: "empty", input: "  \n", wantErr: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSize(t *testing.T) {
	if err := ValidateSize(DefaultMaxSize, DefaultMaxSize); err != nil {
		t.Errorf("size at limit should pass: %v", err)
	}
	if err := ValidateSize(DefaultMaxSize+1, DefaultMaxSize); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if err := ValidateSize(DefaultMaxSize+1, 0); err != nil {
		t.Errorf("zero limit disables the check: %v", err)
	}
}

func TestChecksum(t *testing.T) {
	// sha256("") is a well known constant.
	if got := Checksum(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("Checksum(\"\") = %s", got)
	}
	a := Checksum(">x\nACGT\n")
	b := Checksum(">x\nACGA\n")
	if a == b {
		t.Error("different content must give different checksums")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestIdentifier(t *testing.T) {
	if got := Identifier(">  BRCA1 sample \nACGT"); got != "BRCA1 sample" {
		t.Errorf("Identifier() = %q", got)
	}
}

func TestSequence(t *testing.T) {
	got := Sequence(">x\nACGT\r\nGG\n>y\nTT\n")
	if got != "ACGTGGTT" {
		t.Errorf("Sequence() = %q, want %q", got, "ACGTGGTT")
	}
}
