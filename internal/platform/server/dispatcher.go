package server

import (
	"context"
	"errors"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/genomic/genomic/internal/domain/patient"
	"github.com/genomic/genomic/internal/platform/fasta"
	"github.com/genomic/genomic/internal/platform/protocol"
)

// PatientService is the part of patient.Service the dispatcher drives.
type PatientService interface {
	CreatePatient(ctx context.Context, meta *patient.Metadata, sequence string) (string, error)
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	UpdatePatient(ctx context.Context, id string, meta *patient.Metadata, sequence string) error
	DeletePatient(ctx context.Context, id string) error
	PatientCount(ctx context.Context) int
}

// Dispatcher routes parsed requests to the patient service.
type Dispatcher struct {
	patients PatientService
}

func NewDispatcher(patients PatientService) *Dispatcher {
	return &Dispatcher{patients: patients}
}

func (d *Dispatcher) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Command {
	case protocol.CmdCreatePatient:
		meta, err := patient.ParseMetadata(req.Metadata)
		if err != nil {
			return d.fail(ctx, err)
		}
		id, err := d.patients.CreatePatient(ctx, meta, req.Sequence)
		if err != nil {
			return d.fail(ctx, err)
		}
		return protocol.Acknowledge("Patient created successfully", id)

	case protocol.CmdGetPatient:
		p, err := d.patients.GetPatient(ctx, req.PatientID)
		if err != nil {
			return d.fail(ctx, err)
		}
		return protocol.Success(p)

	case protocol.CmdUpdatePatient:
		meta, err := patient.ParseMetadata(req.Metadata)
		if err != nil {
			return d.fail(ctx, err)
		}
		if err := d.patients.UpdatePatient(ctx, req.PatientID, meta, req.Sequence); err != nil {
			return d.fail(ctx, err)
		}
		return protocol.Acknowledge("Patient updated successfully", req.PatientID)

	case protocol.CmdDeletePatient:
		if err := d.patients.DeletePatient(ctx, req.PatientID); err != nil {
			return d.fail(ctx, err)
		}
		return protocol.Acknowledge("Patient deleted successfully", req.PatientID)

	case protocol.CmdGetPatientCount:
		return protocol.Count(protocol.CountLabel, d.patients.PatientCount(ctx))
	}

	return protocol.Failure(protocol.CodeInvalidFormat, "Unknown command: "+string(req.Command))
}

func (d *Dispatcher) fail(ctx context.Context, err error) *protocol.Response {
	pe := ToProtocolError(err)
	if pe.Code == protocol.CodeServerError {
		zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
	}
	return protocol.Failure(pe.Code, pe.Message)
}

// ToProtocolError maps domain errors to wire error codes. Errors it does not
// recognise become a SERVER_ERROR whose message does not leak the cause.
func ToProtocolError(err error) *protocol.Error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe
	}

	var code protocol.Code
	switch {
	case errors.Is(err, patient.ErrNotFound):
		code = protocol.CodePatientNotFound
	case errors.Is(err, patient.ErrDuplicateDocument):
		code = protocol.CodeDuplicateDocument
	case errors.Is(err, patient.ErrInvalidMetadata), errors.Is(err, fasta.ErrTooLarge):
		code = protocol.CodeInvalidFormat
	case errors.Is(err, fasta.ErrInvalid):
		code = protocol.CodeInvalidFasta
	default:
		return &protocol.Error{Code: protocol.CodeServerError, Message: "internal server error"}
	}
	return &protocol.Error{Code: code, Message: capitalize(err.Error())}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
