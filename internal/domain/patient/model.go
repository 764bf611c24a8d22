package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Patient is one row of the patient table.
type Patient struct {
	ID               string    `json:"patientId"`
	FullName         string    `json:"fullName"`
	DocumentID       string    `json:"documentId"`
	Age              int       `json:"age"`
	Sex              string    `json:"sex"`
	Email            string    `json:"email"`
	RegistrationDate time.Time `json:"-"`
	ClinicalNotes    string    `json:"clinicalNotes"`
	ChecksumFasta    string    `json:"checksumFasta"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	Active           bool      `json:"active"`
	FastaFilename    string    `json:"fastaFilename"`
}

type patientJSON Patient

// MarshalJSON writes registrationDate as epoch milliseconds.
func (p Patient) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		patientJSON
		RegistrationDate int64 `json:"registrationDate"`
	}{patientJSON(p), p.RegistrationDate.UnixMilli()})
}

func (p *Patient) UnmarshalJSON(data []byte) error {
	aux := struct {
		*patientJSON
		RegistrationDate int64 `json:"registrationDate"`
	}{patientJSON: (*patientJSON)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.RegistrationDate = time.UnixMilli(aux.RegistrationDate)
	return nil
}

func (p *Patient) clone() *Patient {
	c := *p
	return &c
}

var (
	sexPattern   = regexp.MustCompile(`^[MF]$`)
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@(.+)$`)
)

const (
	minAge = 1
	maxAge = 150
)

// Metadata is the demographic payload of create and update requests. A nil
// field means the key was absent. Unknown keys are ignored.
type Metadata struct {
	FullName      *string `json:"fullName,omitempty"`
	DocumentID    *string `json:"documentId,omitempty"`
	Age           *Number `json:"age,omitempty"`
	Sex           *string `json:"sex,omitempty"`
	Email         *string `json:"email,omitempty"`
	ClinicalNotes *string `json:"clinicalNotes,omitempty"`
}

// ParseMetadata decodes a JSON object into Metadata.
func ParseMetadata(raw []byte) (*Metadata, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: metadata must be a JSON object", ErrInvalidMetadata)
	}
	var m Metadata
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return &m, nil
}

// ValidateCreate requires every demographic key and checks each value.
func (m *Metadata) ValidateCreate() error {
	switch {
	case m.FullName == nil || strings.TrimSpace(*m.FullName) == "":
		return fmt.Errorf("%w: fullName is required", ErrInvalidMetadata)
	case m.DocumentID == nil || strings.TrimSpace(*m.DocumentID) == "":
		return fmt.Errorf("%w: documentId is required", ErrInvalidMetadata)
	case m.Age == nil:
		return fmt.Errorf("%w: age is required", ErrInvalidMetadata)
	case m.Sex == nil:
		return fmt.Errorf("%w: sex is required", ErrInvalidMetadata)
	case m.Email == nil:
		return fmt.Errorf("%w: email is required", ErrInvalidMetadata)
	}
	return m.validatePresent()
}

// ValidateUpdate checks only the keys that are present. documentId is not
// checked: clients echo the whole record back on update and Apply ignores it.
func (m *Metadata) ValidateUpdate() error {
	if m.FullName != nil && strings.TrimSpace(*m.FullName) == "" {
		return fmt.Errorf("%w: fullName cannot be empty", ErrInvalidMetadata)
	}
	return m.validatePresent()
}

func (m *Metadata) validatePresent() error {
	if m.Age != nil && (int(*m.Age) < minAge || int(*m.Age) > maxAge) {
		return fmt.Errorf("%w: age must be between %d and %d", ErrInvalidMetadata, minAge, maxAge)
	}
	if m.Sex != nil && !sexPattern.MatchString(*m.Sex) {
		return fmt.Errorf("%w: sex must be M or F", ErrInvalidMetadata)
	}
	if m.Email != nil && !emailPattern.MatchString(*m.Email) {
		return fmt.Errorf("%w: email is not valid", ErrInvalidMetadata)
	}
	return nil
}

// Apply copies the present keys onto p. documentId is only applied when p
// has none yet, so an update never changes it. Free text is stored as
// submitted except for the separators the patient table cannot hold, which
// become spaces here so the value read back never changes across a restart.
func (m *Metadata) Apply(p *Patient) {
	if m.FullName != nil {
		p.FullName = fieldSanitizer.Replace(*m.FullName)
	}
	if m.DocumentID != nil && p.DocumentID == "" {
		p.DocumentID = fieldSanitizer.Replace(*m.DocumentID)
	}
	if m.Age != nil {
		p.Age = int(*m.Age)
	}
	if m.Sex != nil {
		p.Sex = *m.Sex
	}
	if m.Email != nil {
		p.Email = fieldSanitizer.Replace(*m.Email)
	}
	if m.ClinicalNotes != nil {
		p.ClinicalNotes = fieldSanitizer.Replace(*m.ClinicalNotes)
	}
}

// Number is an integer that also accepts a quoted decimal string.
type Number int

func (f *Number) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(data, `"`))
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("age must be an integer, got %s", data)
	}
	*f = Number(n)
	return nil
}

func (f Number) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(f))), nil
}

// Int returns a pointer to n for building Metadata in code.
func Int(n int) *Number {
	f := Number(n)
	return &f
}

// String returns a pointer to s for building Metadata in code.
func String(s string) *string {
	return &s
}
