package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Status is the leading field of a response line.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// CountLabel prefixes the plain GET_PATIENT_COUNT response line.
const CountLabel = "PATIENT_COUNT"

// Response is one reply. Exactly one of Data, Err or Label is meaningful:
// SUCCESS carries Data, ERROR carries Err, and the legacy count line carries
// Label/Value and is written without a status prefix.
type Response struct {
	Status Status
	Data   json.RawMessage
	Err    *Error
	Label  string
	Value  int
}

// Ack is the acknowledgement payload of mutating commands.
type Ack struct {
	PatientID string `json:"patientId,omitempty"`
	Message   string `json:"message"`
}

// Success marshals v as the payload of a SUCCESS response. A value that
// cannot be marshalled becomes a SERVER_ERROR response.
func Success(v interface{}) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Failure(CodeServerError, "failed to encode response")
	}
	return &Response{Status: StatusSuccess, Data: data}
}

// Acknowledge is a SUCCESS response carrying an Ack.
func Acknowledge(message, patientID string) *Response {
	return Success(Ack{PatientID: patientID, Message: message})
}

// Failure is an ERROR response.
func Failure(code Code, message string) *Response {
	return &Response{Status: StatusError, Err: &Error{Code: code, Message: message}}
}

// FailureFrom converts err into an ERROR response, keeping the code of a
// protocol *Error and reporting anything else as SERVER_ERROR.
func FailureFrom(err error) *Response {
	var pe *Error
	if errors.As(err, &pe) {
		return Failure(pe.Code, pe.Message)
	}
	return Failure(CodeServerError, "internal server error")
}

// Count is the legacy "label: n" response used by batch tooling.
func Count(label string, n int) *Response {
	return &Response{Status: StatusSuccess, Label: label, Value: n}
}

// OK reports whether the response is a success.
func (r *Response) OK() bool {
	return r.Status == StatusSuccess
}

// Decode unmarshals the SUCCESS payload into v.
func (r *Response) Decode(v interface{}) error {
	if !r.OK() {
		if r.Err == nil {
			return fmt.Errorf("error response without payload")
		}
		return r.Err
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no payload")
	}
	return json.Unmarshal(r.Data, v)
}

// String encodes the response as a wire line.
func (r *Response) String() string {
	if r.Label != "" {
		return r.Label + ": " + strconv.Itoa(r.Value)
	}
	if r.Status == StatusError {
		e := r.Err
		if e == nil {
			e = &Error{Code: CodeServerError, Message: "unknown error"}
		}
		data, _ := json.Marshal(e)
		return string(StatusError) + Delimiter + string(data)
	}
	data := r.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return string(StatusSuccess) + Delimiter + string(data)
}

// ParseResponse decodes a response line produced by String.
func ParseResponse(raw string) (*Response, error) {
	raw = strings.TrimSpace(raw)
	status, payload, found := strings.Cut(raw, Delimiter)

	switch Status(status) {
	case StatusSuccess:
		if !found || !json.Valid([]byte(payload)) {
			return nil, fmt.Errorf("malformed success payload")
		}
		return &Response{Status: StatusSuccess, Data: json.RawMessage(payload)}, nil
	case StatusError:
		var e Error
		if !found {
			return nil, fmt.Errorf("malformed error payload")
		}
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("malformed error payload: %w", err)
		}
		return &Response{Status: StatusError, Err: &e}, nil
	}

	label, value, ok := strings.Cut(raw, ":")
	if ok {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return Count(strings.TrimSpace(label), n), nil
		}
	}
	return nil, fmt.Errorf("unrecognized response: %q", truncate(raw, 64))
}
