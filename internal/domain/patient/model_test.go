package patient

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseMetadata(t *testing.T) {
	m, err := ParseMetadata([]byte(`{"fullName":"Ana Lopez","documentId":"CC1","age":"34","sex":"F","email":"ana@example.com","extra":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *m.FullName != "Ana Lopez" || int(*m.Age) != 34 {
		t.Errorf("unexpected metadata: %+v", m)
	}
	if m.ClinicalNotes != nil {
		t.Error("absent key should stay nil")
	}

	for _, raw := range []string{``, `[]`, `"x"`, `{"age":"old"}`, `{"fullName":5}`} {
		if _, err := ParseMetadata([]byte(raw)); !errors.Is(err, ErrInvalidMetadata) {
			t.Errorf("ParseMetadata(%q) = %v, want ErrInvalidMetadata", raw, err)
		}
	}
}

func validMetadata() *Metadata {
	return &Metadata{
		FullName:   String("Ana Lopez"),
		DocumentID: String("CC1"),
		Age:        Int(34),
		Sex:        String("F"),
		Email:      String("ana@example.com"),
	}
}

func TestMetadata_ValidateCreate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Metadata)
		wantErr string
	}{
		{"valid", func(m *Metadata) {}, ""},
		{"missing name", func(m *Metadata) { m.FullName = nil }, "fullName is required"},
		{"blank name", func(m *Metadata) { m.FullName = String("  ") }, "fullName is required"},
		{"missing document", func(m *Metadata) { m.DocumentID = nil }, "documentId is required"},
		{"missing age", func(m *Metadata) { m.Age = nil }, "age is required"},
		{"age zero", func(m *Metadata) { m.Age = Int(0) }, "age must be between"},
		{"age 151", func(m *Metadata) { m.Age = Int(151) }, "age must be between"},
		{"age 150", func(m *Metadata) { m.Age = Int(150) }, ""},
		{"sex lowercase", func(m *Metadata) { m.Sex = String("f") }, "sex must be M or F"},
		{"sex other", func(m *Metadata) { m.Sex = String("X") }, "sex must be M or F"},
		{"missing email", func(m *Metadata) { m.Email = nil }, "email is required"},
		{"email without at", func(m *Metadata) { m.Email = String("ana.example.com") }, "email is not valid"},
		{"email with space", func(m *Metadata) { m.Email = String("a na@example.com") }, "email is not valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMetadata()
			tt.mutate(m)
			err := m.ValidateCreate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidMetadata) {
				t.Fatalf("expected ErrInvalidMetadata, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestMetadata_ValidateUpdate(t *testing.T) {
	if err := (&Metadata{Age: Int(40)}).ValidateUpdate(); err != nil {
		t.Errorf("partial update should validate: %v", err)
	}
	if err := (&Metadata{}).ValidateUpdate(); err != nil {
		t.Errorf("empty update should validate: %v", err)
	}
	if err := (&Metadata{DocumentID: String("X")}).ValidateUpdate(); err != nil {
		t.Errorf("an echoed documentId should not fail validation: %v", err)
	}
	if err := (&Metadata{Sex: String("Q")}).ValidateUpdate(); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("present keys should be validated, got %v", err)
	}
}

func TestMetadata_Apply(t *testing.T) {
	p := &Patient{FullName: "Old", DocumentID: "CC1", Age: 20, Sex: "M", Email: "old@x.org", ClinicalNotes: "n"}
	(&Metadata{Age: Int(21), ClinicalNotes: String("")}).Apply(p)

	if p.Age != 21 || p.ClinicalNotes != "" {
		t.Errorf("present keys not applied: %+v", p)
	}
	if p.FullName != "Old" || p.Sex != "M" || p.Email != "old@x.org" {
		t.Errorf("absent keys changed: %+v", p)
	}

	(&Metadata{DocumentID: String("CC2")}).Apply(p)
	if p.DocumentID != "CC1" {
		t.Errorf("documentId must not change once assigned, got %q", p.DocumentID)
	}
}

func TestMetadata_ApplyStoresTextAsSubmitted(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"padding kept", "  Ana Lopez ", "  Ana Lopez "},
		{"comma replaced", "BRCA1, follow-up", "BRCA1  follow-up"},
		{"newline replaced", "line one\r\nline two", "line one  line two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Patient{}
			(&Metadata{FullName: String(tt.in), ClinicalNotes: String(tt.in)}).Apply(p)
			if p.FullName != tt.want || p.ClinicalNotes != tt.want {
				t.Errorf("got fullName %q clinicalNotes %q, want %q", p.FullName, p.ClinicalNotes, tt.want)
			}
		})
	}
}

func TestPatient_JSON(t *testing.T) {
	p := Patient{
		ID:               "PAT000001",
		FullName:         "Ana",
		RegistrationDate: time.UnixMilli(1700000000123),
		Active:           true,
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	if raw["registrationDate"] != float64(1700000000123) {
		t.Errorf("registrationDate should be epoch millis, got %v", raw["registrationDate"])
	}
	for _, key := range tableHeader {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}

	var back Patient
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.RegistrationDate.Equal(p.RegistrationDate) || back.ID != p.ID {
		t.Errorf("round trip mismatch: %+v", back)
	}
}
