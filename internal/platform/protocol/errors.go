package protocol

import "fmt"

// Code is the machine-readable error kind carried in an ERROR response.
type Code string

const (
	CodeInvalidFormat     Code = "INVALID_FORMAT"
	CodePatientNotFound   Code = "PATIENT_NOT_FOUND"
	CodeDuplicateDocument Code = "DUPLICATE_DOCUMENT"
	CodeInvalidFasta      Code = "INVALID_FASTA"
	CodeServerError       Code = "SERVER_ERROR"
)

// Error is a protocol-level failure. It is the payload of an ERROR response.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
