// Package disease holds the read-only reference catalog and screens patient
// sequences against it.
package disease

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/genomic/genomic/internal/platform/align"
	"github.com/genomic/genomic/internal/platform/fasta"
)

// CatalogFile is the catalog table name inside the disease database directory.
const CatalogFile = "catalog.csv"

// DefaultThreshold is the minimum similarity reported as a match.
const DefaultThreshold = 0.8

// Catalog is loaded once and never mutated afterwards, so it is safe for
// concurrent use without locking.
type Catalog struct {
	diseases  []*Disease
	byID      map[string]*Disease
	sequences map[string]string // cleaned reference residues, keyed by disease id
	logger    zerolog.Logger
	workers   int
}

// LoadCatalog reads catalog.csv and the reference sequences it names from
// dir. A missing catalog yields an empty catalog. Reference files that are
// missing or unreadable are tolerated; those entries are skipped when
// scanning.
func LoadCatalog(dir string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		byID:      make(map[string]*Disease),
		sequences: make(map[string]string),
		logger:    logger.With().Str("component", "disease_catalog").Logger(),
		workers:   runtime.GOMAXPROCS(0),
	}

	path := filepath.Join(dir, CatalogFile)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().Str("path", path).Msg("disease catalog not found, screening disabled")
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open disease catalog: %w", err)
	}
	defer f.Close()

	entries, err := parseCatalog(f, c.logger)
	if err != nil {
		return nil, fmt.Errorf("parse disease catalog %s: %w", path, err)
	}

	for _, d := range entries {
		if _, dup := c.byID[d.ID]; dup {
			c.logger.Warn().Str("disease_id", d.ID).Msg("duplicate catalog entry ignored")
			continue
		}
		c.diseases = append(c.diseases, d)
		c.byID[d.ID] = d

		ref, err := readReference(filepath.Join(dir, d.FastaFilename))
		if err != nil {
			c.logger.Warn().Err(err).Str("disease_id", d.ID).Msg("reference sequence unavailable")
			continue
		}
		c.sequences[d.ID] = ref
	}

	c.logger.Info().
		Int("diseases", len(c.diseases)).
		Int("sequences", len(c.sequences)).
		Msg("disease catalog loaded")
	return c, nil
}

// parseCatalog reads diseaseId,name,severity[,fastaFilename] rows after a
// header row. Rows with a bad severity are skipped.
func parseCatalog(r io.Reader, logger zerolog.Logger) ([]*Disease, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []*Disease
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 || len(rec) < 3 {
			continue
		}

		id := strings.TrimSpace(rec[0])
		severity, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if id == "" || err != nil || severity < 1 || severity > 10 {
			logger.Warn().Int("line", line).Str("severity", rec[2]).Msg("invalid catalog row skipped")
			continue
		}

		filename := id + ".fasta"
		if len(rec) > 3 && strings.TrimSpace(rec[3]) != "" {
			filename = strings.TrimSpace(rec[3])
		}
		out = append(out, &Disease{
			ID:            id,
			Name:          strings.TrimSpace(rec[1]),
			Severity:      severity,
			FastaFilename: filename,
		})
	}
}

// Get returns the disease with the given id.
func (c *Catalog) Get(id string) (*Disease, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// All returns the catalog entries in file order.
func (c *Catalog) All() []*Disease {
	out := make([]*Disease, len(c.diseases))
	copy(out, c.diseases)
	return out
}

// Len is the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.diseases)
}

// HasSequence reports whether the reference sequence of id was loaded.
func (c *Catalog) HasSequence(id string) bool {
	_, ok := c.sequences[id]
	return ok
}

// Scan aligns genome (FASTA text or bare residues) against every catalog
// entry and returns the entries whose similarity is at least threshold, in
// catalog order. Entries without a reference sequence, or whose reference is
// more than twice as long as the genome, are skipped without aligning.
func (c *Catalog) Scan(ctx context.Context, genome string, threshold float64) ([]MatchResult, error) {
	patient := string(align.Clean(fasta.Sequence(genome)))
	if len(patient) == 0 || len(c.diseases) == 0 {
		return nil, nil
	}

	results := make([]*MatchResult, len(c.diseases))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, d := range c.diseases {
		ref, ok := c.sequences[d.ID]
		if !ok || len(ref) == 0 {
			c.logger.Debug().Str("disease_id", d.ID).Msg("no reference sequence, skipped")
			continue
		}
		if !align.PotentialMatch(len(patient), len(ref)) {
			continue
		}

		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sim := align.Similarity(patient, ref)
			if sim >= threshold {
				m := NewMatchResult(d, sim)
				results[i] = &m
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var matches []MatchResult
	for _, m := range results {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	return matches, nil
}
