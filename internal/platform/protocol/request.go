// Package protocol implements the pipe-delimited request/response text
// protocol and its length-prefixed framing.
//
// A request is a single line:
//
//	COMMAND|field1|field2[|field3]
//
// The sequence payload is always the last field and is never escaped, so any
// pipes it contains are preserved verbatim. Metadata is a JSON object and is
// delimited by JSON syntax, so pipes inside JSON strings are safe too.
package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Delimiter separates top-level fields.
const Delimiter = "|"

// EndMarker is an optional trailing end-of-message line sent by older clients.
const EndMarker = "END"

// Command names a protocol operation.
type Command string

const (
	CmdCreatePatient   Command = "CREATE_PATIENT"
	CmdGetPatient      Command = "GET_PATIENT"
	CmdUpdatePatient   Command = "UPDATE_PATIENT"
	CmdDeletePatient   Command = "DELETE_PATIENT"
	CmdGetPatientCount Command = "GET_PATIENT_COUNT"
)

// Request is a decoded request line.
type Request struct {
	Command   Command
	PatientID string
	// Metadata is the raw JSON object text, validated to be an object.
	Metadata json.RawMessage
	// Sequence is the FASTA payload. For UPDATE_PATIENT an empty value means
	// the sequence is left unchanged.
	Sequence string
}

// StripEndMarker removes a trailing END marker (on its own last line, or
// directly before a final newline) and surrounding whitespace.
func StripEndMarker(raw string) string {
	s := strings.TrimRight(raw, " \t\r\n")
	switch {
	case s == EndMarker:
		s = ""
	case strings.HasSuffix(s, "\n"+EndMarker):
		s = strings.TrimSuffix(s, EndMarker)
	case strings.HasSuffix(raw, EndMarker+"\n"):
		s = strings.TrimSuffix(s, EndMarker)
	}
	return strings.TrimSpace(s)
}

// ParseRequest decodes a raw request line. Every failure is an *Error with
// CodeInvalidFormat.
func ParseRequest(raw string) (*Request, error) {
	clean := StripEndMarker(raw)
	if clean == "" {
		return nil, Errorf(CodeInvalidFormat, "empty request")
	}

	name, rest, hasRest := strings.Cut(clean, Delimiter)
	req := &Request{Command: Command(strings.TrimSpace(name))}

	switch req.Command {
	case CmdCreatePatient:
		if !hasRest {
			return nil, Errorf(CodeInvalidFormat, "%s requires metadata and FASTA", req.Command)
		}
		meta, seq, hasSeq, err := splitMetadata(rest)
		if err != nil {
			return nil, err
		}
		if !hasSeq {
			return nil, Errorf(CodeInvalidFormat, "%s requires metadata and FASTA", req.Command)
		}
		req.Metadata, req.Sequence = meta, seq

	case CmdGetPatient, CmdDeletePatient:
		id, _, _ := strings.Cut(rest, Delimiter)
		req.PatientID = strings.TrimSpace(id)
		if !hasRest || req.PatientID == "" {
			return nil, Errorf(CodeInvalidFormat, "%s requires patient ID", req.Command)
		}

	case CmdUpdatePatient:
		id, tail, hasTail := strings.Cut(rest, Delimiter)
		req.PatientID = strings.TrimSpace(id)
		if !hasRest || !hasTail || req.PatientID == "" {
			return nil, Errorf(CodeInvalidFormat, "%s requires patient ID and metadata", req.Command)
		}
		meta, seq, _, err := splitMetadata(tail)
		if err != nil {
			return nil, err
		}
		req.Metadata, req.Sequence = meta, seq

	case CmdGetPatientCount:

	default:
		return nil, Errorf(CodeInvalidFormat, "unknown command: %s", truncate(string(req.Command), 64))
	}

	return req, nil
}

// splitMetadata reads one JSON object from the front of s and returns it with
// whatever follows the next delimiter, verbatim.
func splitMetadata(s string) (meta json.RawMessage, tail string, hasTail bool, err error) {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(trimmed, "{") {
		return nil, "", false, Errorf(CodeInvalidFormat, "metadata must be a JSON object")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(&meta); err != nil {
		return nil, "", false, Errorf(CodeInvalidFormat, "malformed metadata: %v", err)
	}

	after := strings.TrimLeft(trimmed[dec.InputOffset():], " \t\r\n")
	switch {
	case after == "":
		return meta, "", false, nil
	case strings.HasPrefix(after, Delimiter):
		return meta, after[len(Delimiter):], true, nil
	default:
		return nil, "", false, Errorf(CodeInvalidFormat, "unexpected data after metadata")
	}
}

// FormatRequest encodes req as a request line. It is the inverse of
// ParseRequest.
func FormatRequest(req *Request) string {
	var b strings.Builder
	b.WriteString(string(req.Command))

	switch req.Command {
	case CmdCreatePatient:
		b.WriteString(Delimiter)
		b.Write(compactJSON(req.Metadata))
		b.WriteString(Delimiter)
		b.WriteString(req.Sequence)
	case CmdGetPatient, CmdDeletePatient:
		b.WriteString(Delimiter)
		b.WriteString(req.PatientID)
	case CmdUpdatePatient:
		b.WriteString(Delimiter)
		b.WriteString(req.PatientID)
		b.WriteString(Delimiter)
		b.Write(compactJSON(req.Metadata))
		if strings.TrimSpace(req.Sequence) != "" {
			b.WriteString(Delimiter)
			b.WriteString(req.Sequence)
		}
	}
	return b.String()
}

func compactJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
