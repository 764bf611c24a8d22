// Package patient owns patient records and their stored genomic sequences.
package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/genomic/genomic/internal/platform/fasta"
)

// Screener checks a stored sequence against the disease catalog and returns
// the number of matches it recorded.
type Screener interface {
	Screen(ctx context.Context, patientID, sequence string) (int, error)
}

type Service struct {
	patients     Repository
	screener     Screener
	maxFastaSize int64
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService builds the patient service. screener may be nil, in which case
// stored sequences are not screened. A non-positive maxFastaSize falls back
// to fasta.DefaultMaxSize.
func NewService(patients Repository, screener Screener, maxFastaSize int64, logger zerolog.Logger) *Service {
	if maxFastaSize <= 0 {
		maxFastaSize = fasta.DefaultMaxSize
	}
	return &Service{
		patients:     patients,
		screener:     screener,
		maxFastaSize: maxFastaSize,
		logger:       logger.With().Str("component", "patient_service").Logger(),
		now:          time.Now,
	}
}

func (s *Service) CreatePatient(ctx context.Context, meta *Metadata, sequence string) (string, error) {
	if err := meta.ValidateCreate(); err != nil {
		return "", err
	}
	if err := s.checkSequence(sequence); err != nil {
		return "", err
	}

	p := &Patient{
		RegistrationDate: s.now(),
		Active:           true,
		ChecksumFasta:    fasta.Checksum(sequence),
		FileSizeBytes:    int64(len(sequence)),
	}
	meta.Apply(p)

	if err := s.patients.Create(ctx, p, sequence); err != nil {
		return "", err
	}

	s.logger.Info().
		Str("patient_id", p.ID).
		Str("fasta_id", fasta.Identifier(sequence)).
		Int64("size_bytes", p.FileSizeBytes).
		Msg("patient created")

	s.screen(ctx, p.ID, sequence)
	return p.ID, nil
}

// GetPatient returns an active patient.
func (s *Service) GetPatient(ctx context.Context, id string) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// UpdatePatient applies the keys present in meta. An empty sequence leaves
// the stored one untouched; otherwise it is validated, stored and screened.
func (s *Service) UpdatePatient(ctx context.Context, id string, meta *Metadata, sequence string) error {
	// An unknown id is reported before anything about the payload.
	if _, err := s.GetPatient(ctx, id); err != nil {
		return err
	}
	if err := meta.ValidateUpdate(); err != nil {
		return err
	}

	var seq *string
	var checksum string
	if sequence != "" {
		if err := s.checkSequence(sequence); err != nil {
			return err
		}
		seq = &sequence
		checksum = fasta.Checksum(sequence)
	}

	_, err := s.patients.Update(ctx, id, seq, func(p *Patient) error {
		meta.Apply(p)
		if seq != nil {
			p.ChecksumFasta = checksum
			p.FileSizeBytes = int64(len(sequence))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("patient_id", id).
		Bool("sequence_replaced", seq != nil).
		Msg("patient updated")

	if seq != nil {
		s.screen(ctx, id, sequence)
	}
	return nil
}

// DeletePatient marks an active patient inactive. The row and its sequence
// file are kept.
func (s *Service) DeletePatient(ctx context.Context, id string) error {
	_, err := s.patients.Update(ctx, id, nil, func(p *Patient) error {
		p.Active = false
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("patient_id", id).Msg("patient deactivated")
	return nil
}

// PatientCount is the number of ids handed out so far, deleted patients
// included.
func (s *Service) PatientCount(_ context.Context) int {
	return s.patients.HighWater()
}

// ActiveCount counts the patients that are not deleted.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	all, err := s.patients.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range all {
		if p.Active {
			n++
		}
	}
	return n, nil
}

func (s *Service) checkSequence(sequence string) error {
	if err := fasta.ValidateSize(int64(len(sequence)), s.maxFastaSize); err != nil {
		return err
	}
	return fasta.Validate(sequence)
}

// screen never fails the calling operation: the record is already stored.
func (s *Service) screen(ctx context.Context, id, sequence string) {
	if s.screener == nil {
		return
	}
	n, err := s.screener.Screen(ctx, id, sequence)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", id).Msg("disease screening failed")
		return
	}
	if n > 0 {
		s.logger.Warn().Str("patient_id", id).Int("matches", n).Msg("disease matches recorded")
	}
}
