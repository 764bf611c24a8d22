package patient

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("patient not found")
	ErrDuplicateDocument = errors.New("duplicate document ID")
	ErrInvalidMetadata   = errors.New("invalid patient metadata")
)

type Repository interface {
	// Create allocates an id for p, stores sequence next to the table and
	// inserts the row. It fails with ErrDuplicateDocument when an active
	// patient already holds p.DocumentID.
	Create(ctx context.Context, p *Patient, sequence string) error
	// GetByID returns a copy of the row, active or not.
	GetByID(ctx context.Context, id string) (*Patient, error)
	// Update applies fn to a copy of the active row and stores the result.
	// A non-nil sequence replaces the stored sequence file.
	Update(ctx context.Context, id string, sequence *string, fn func(p *Patient) error) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
	// HighWater is the largest id number allocated so far.
	HighWater() int
}
