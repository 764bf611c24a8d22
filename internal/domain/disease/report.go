package disease

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ReportFile is the detection report name inside the reports directory.
const ReportFile = "disease_detections.csv"

var reportHeader = []string{"patientId", "diseaseId", "diseaseName", "severity", "similarity", "detectionDate", "description"}

// Reporter appends detections to an append-only CSV log. The file and its
// header row are created on the first append.
type Reporter struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewReporter(path string) *Reporter {
	return &Reporter{path: path, now: time.Now}
}

// Path returns the report file location.
func (r *Reporter) Path() string {
	return r.path
}

// Append writes one row per match. Free-text fields that contain commas or
// quotes are quoted with inner quotes doubled.
func (r *Reporter) Append(patientID string, matches []MatchResult) error {
	if len(matches) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat report: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(reportHeader); err != nil {
			return fmt.Errorf("write report header: %w", err)
		}
	}

	detected := r.now().Format("2006-01-02T15:04:05.000")
	for _, m := range matches {
		row := []string{
			patientID,
			m.Disease.ID,
			m.Disease.Name,
			strconv.Itoa(m.Disease.Severity),
			strconv.FormatFloat(m.Similarity, 'f', 4, 64),
			detected,
			m.Description,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

// Screener runs a catalog scan for a stored patient sequence and records the
// matches in the detection report.
type Screener struct {
	catalog   *Catalog
	reporter  *Reporter
	threshold float64
	logger    zerolog.Logger
	metrics   ScanRecorder
}

// ScanRecorder receives the outcome of every completed scan.
type ScanRecorder interface {
	RecordScan(matches int, d time.Duration)
}

// WithMetrics sets the recorder that observes scans. It returns s.
func (s *Screener) WithMetrics(m ScanRecorder) *Screener {
	s.metrics = m
	return s
}

func NewScreener(catalog *Catalog, reporter *Reporter, threshold float64, logger zerolog.Logger) *Screener {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Screener{
		catalog:   catalog,
		reporter:  reporter,
		threshold: threshold,
		logger:    logger.With().Str("component", "disease_screener").Logger(),
	}
}

// Screen scans sequence and appends every match for patientID to the report.
// It returns the number of matches found.
func (s *Screener) Screen(ctx context.Context, patientID, sequence string) (int, error) {
	start := time.Now()
	matches, err := s.catalog.Scan(ctx, sequence, s.threshold)
	if err != nil {
		return 0, fmt.Errorf("scan catalog: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordScan(len(matches), time.Since(start))
	}

	for _, m := range matches {
		s.logger.Info().
			Str("patient_id", patientID).
			Str("disease_id", m.Disease.ID).
			Float64("similarity", m.Similarity).
			Msg("disease detected")
	}
	if err := s.reporter.Append(patientID, matches); err != nil {
		return len(matches), err
	}

	s.logger.Debug().
		Str("patient_id", patientID).
		Int("matches", len(matches)).
		Dur("elapsed", time.Since(start)).
		Msg("screening complete")
	return len(matches), nil
}
