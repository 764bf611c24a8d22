package patient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// TableFile is the durable patient table inside the data directory.
	TableFile = "patients.csv"
	// SequenceDir holds one <patientId>.fasta file per patient.
	SequenceDir = "patients"

	idPrefix = "PAT"
)

var tableHeader = []string{
	"patientId", "fullName", "documentId", "age", "sex", "email",
	"registrationDate", "clinicalNotes", "checksumFasta", "fileSizeBytes",
	"active", "fastaFilename",
}

// CSVRepository keeps the patient table in memory and mirrors it to a flat
// CSV file. Readers only take the read lock. Mutations are serialized by
// wmu and rewrite the whole file through a temp file and rename.
type CSVRepository struct {
	dir    string
	seqDir string
	logger zerolog.Logger

	mu       sync.RWMutex
	patients map[string]*Patient

	wmu  sync.Mutex
	next atomic.Int64
}

// NewCSVRepository opens (or initialises) the table in dataDir and loads
// every row into memory. The id counter resumes after the highest id found.
func NewCSVRepository(dataDir string, logger zerolog.Logger) (*CSVRepository, error) {
	r := &CSVRepository{
		dir:      dataDir,
		seqDir:   filepath.Join(dataDir, SequenceDir),
		logger:   logger.With().Str("component", "patient_repo").Logger(),
		patients: make(map[string]*Patient),
	}
	r.next.Store(1)

	if err := os.MkdirAll(r.seqDir, 0o755); err != nil {
		return nil, fmt.Errorf("create patient directory: %w", err)
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(r.tablePath()); errors.Is(err, os.ErrNotExist) {
		if err := r.persist(); err != nil {
			return nil, err
		}
	}

	r.logger.Info().
		Int("patients", len(r.patients)).
		Int64("next_id", r.next.Load()).
		Msg("patient table loaded")
	return r, nil
}

func (r *CSVRepository) tablePath() string {
	return filepath.Join(r.dir, TableFile)
}

// SequencePath returns the location of a stored sequence file.
func (r *CSVRepository) SequencePath(filename string) string {
	return filepath.Join(r.seqDir, filename)
}

func (r *CSVRepository) Create(_ context.Context, p *Patient, sequence string) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	for _, existing := range r.patients {
		if existing.Active && existing.DocumentID == p.DocumentID {
			return fmt.Errorf("%w: %s", ErrDuplicateDocument, p.DocumentID)
		}
	}

	n := r.next.Add(1) - 1
	p.ID = formatID(n)
	p.FastaFilename = p.ID + ".fasta"

	if err := r.writeSequence(p.FastaFilename, sequence); err != nil {
		return err
	}

	row := p.clone()
	r.mu.Lock()
	r.patients[row.ID] = row
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		r.mu.Lock()
		delete(r.patients, row.ID)
		r.mu.Unlock()
		os.Remove(r.SequencePath(p.FastaFilename))
		return err
	}
	return nil
}

func (r *CSVRepository) GetByID(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.clone(), nil
}

func (r *CSVRepository) Update(_ context.Context, id string, sequence *string, fn func(p *Patient) error) (*Patient, error) {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	r.mu.RLock()
	current, ok := r.patients[id]
	r.mu.RUnlock()
	if !ok || !current.Active {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := current.clone()
	if err := fn(updated); err != nil {
		return nil, err
	}

	// A new sequence is staged next to the live file and only moved into
	// place once the table carrying its checksum has been written.
	var staged string
	if sequence != nil {
		updated.FastaFilename = id + ".fasta"
		var err error
		if staged, err = r.stageSequence(*sequence); err != nil {
			return nil, err
		}
		defer os.Remove(staged)
	}

	r.mu.Lock()
	r.patients[id] = updated
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		r.restore(id, current)
		return nil, err
	}
	if staged != "" {
		if err := os.Rename(staged, r.SequencePath(updated.FastaFilename)); err != nil {
			r.restore(id, current)
			if perr := r.persist(); perr != nil {
				r.logger.Error().Err(perr).Str("patient_id", id).Msg("failed to restore patient table")
			}
			return nil, fmt.Errorf("replace sequence file: %w", err)
		}
	}
	return updated.clone(), nil
}

func (r *CSVRepository) restore(id string, p *Patient) {
	r.mu.Lock()
	r.patients[id] = p
	r.mu.Unlock()
}

// stageSequence writes sequence to a temp file in the sequence directory and
// returns its path.
func (r *CSVRepository) stageSequence(sequence string) (string, error) {
	tmp, err := os.CreateTemp(r.seqDir, "*.fasta.tmp")
	if err != nil {
		return "", fmt.Errorf("stage sequence file: %w", err)
	}
	if _, err := tmp.WriteString(sequence); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage sequence file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage sequence file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage sequence file: %w", err)
	}
	return tmp.Name(), nil
}

// List returns every row, active or not, ordered by id.
func (r *CSVRepository) List(_ context.Context) ([]*Patient, error) {
	r.mu.RLock()
	out := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, p.clone())
	}
	r.mu.RUnlock()

	sortByID(out)
	return out, nil
}

func (r *CSVRepository) HighWater() int {
	return int(r.next.Load() - 1)
}

func (r *CSVRepository) writeSequence(filename, sequence string) error {
	if err := os.WriteFile(r.SequencePath(filename), []byte(sequence), 0o644); err != nil {
		return fmt.Errorf("write sequence file: %w", err)
	}
	return nil
}

// persist rewrites the table. Callers hold wmu, so the map only changes
// under our own hands while the snapshot is taken.
func (r *CSVRepository) persist() error {
	r.mu.RLock()
	rows := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		rows = append(rows, p)
	}
	r.mu.RUnlock()
	sortByID(rows)

	tmp, err := os.CreateTemp(r.dir, TableFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	w.WriteString(strings.Join(tableHeader, ",") + "\n")
	for _, p := range rows {
		w.WriteString(encodeRow(p) + "\n")
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write table: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.tablePath()); err != nil {
		return fmt.Errorf("replace table: %w", err)
	}
	return nil
}

func (r *CSVRepository) load() error {
	f, err := os.Open(r.tablePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open patient table: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var highest int64
	for line := 1; sc.Scan(); line++ {
		if line == 1 || strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		p, err := decodeRow(sc.Text())
		if err != nil {
			r.logger.Warn().Err(err).Int("line", line).Msg("malformed patient row skipped")
			continue
		}
		r.patients[p.ID] = p
		if n, ok := parseID(p.ID); ok && n > highest {
			highest = n
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read patient table: %w", err)
	}

	r.next.Store(highest + 1)
	return nil
}

// The table has no quoting, so separators inside free text are replaced.
var fieldSanitizer = strings.NewReplacer(",", " ", "\r", " ", "\n", " ")

func encodeRow(p *Patient) string {
	return strings.Join([]string{
		p.ID,
		fieldSanitizer.Replace(p.FullName),
		fieldSanitizer.Replace(p.DocumentID),
		strconv.Itoa(p.Age),
		p.Sex,
		fieldSanitizer.Replace(p.Email),
		strconv.FormatInt(p.RegistrationDate.UnixMilli(), 10),
		fieldSanitizer.Replace(p.ClinicalNotes),
		p.ChecksumFasta,
		strconv.FormatInt(p.FileSizeBytes, 10),
		strconv.FormatBool(p.Active),
		p.FastaFilename,
	}, ",")
}

func decodeRow(line string) (*Patient, error) {
	v := strings.Split(line, ",")
	if len(v) < len(tableHeader) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(tableHeader), len(v))
	}

	age, err := strconv.Atoi(v[3])
	if err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	registered, err := strconv.ParseInt(v[6], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("registrationDate: %w", err)
	}
	size, err := strconv.ParseInt(v[9], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("fileSizeBytes: %w", err)
	}
	active, err := strconv.ParseBool(v[10])
	if err != nil {
		return nil, fmt.Errorf("active: %w", err)
	}
	if _, ok := parseID(v[0]); !ok {
		return nil, fmt.Errorf("patientId: %q", v[0])
	}

	return &Patient{
		ID:               v[0],
		FullName:         v[1],
		DocumentID:       v[2],
		Age:              age,
		Sex:              v[4],
		Email:            v[5],
		RegistrationDate: time.UnixMilli(registered),
		ClinicalNotes:    v[7],
		ChecksumFasta:    v[8],
		FileSizeBytes:    size,
		Active:           active,
		FastaFilename:    v[11],
	}, nil
}

func formatID(n int64) string {
	return fmt.Sprintf("%s%06d", idPrefix, n)
}

func parseID(id string) (int64, bool) {
	if !strings.HasPrefix(id, idPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(id[len(idPrefix):], 10, 64)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func sortByID(ps []*Patient) {
	sort.Slice(ps, func(i, j int) bool {
		a, _ := parseID(ps[i].ID)
		b, _ := parseID(ps[j].ID)
		return a < b
	})
}
