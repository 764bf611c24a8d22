package disease

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testCatalog = `diseaseId,name,severity,fastaFilename
D1,"Cystic, Fibrosis",8,d1.fasta
D2,Broken Severity,11,d2.fasta
D3,No Reference,5,missing.fasta
D4,Poly T,3
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, CatalogFile), testCatalog)
	writeFile(t, filepath.Join(dir, "d1.fasta"), ">d1 reference\nACGTA\nCGTAC\n")
	writeFile(t, filepath.Join(dir, "d2.fasta"), ">d2\nACGTACGTAC\n")
	writeFile(t, filepath.Join(dir, "D4.fasta"), ">d4\nTTTTTTTTTT\n")

	c, err := LoadCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return c
}

func TestLoadCatalog(t *testing.T) {
	c := newTestCatalog(t)

	if c.Len() != 3 {
		t.Fatalf("expected 3 entries (D2 skipped), got %d", c.Len())
	}
	if _, ok := c.Get("D2"); ok {
		t.Error("entry with severity 11 should be skipped")
	}

	d1, ok := c.Get("D1")
	if !ok {
		t.Fatal("expected D1")
	}
	if d1.Name != "Cystic, Fibrosis" || d1.Severity != 8 {
		t.Errorf("unexpected D1: %+v", d1)
	}

	d4, _ := c.Get("D4")
	if d4.FastaFilename != "D4.fasta" {
		t.Errorf("expected default filename D4.fasta, got %q", d4.FastaFilename)
	}

	if !c.HasSequence("D1") || c.HasSequence("D3") {
		t.Error("D1 should have a sequence and D3 should not")
	}

	all := c.All()
	if all[0].ID != "D1" || all[1].ID != "D3" || all[2].ID != "D4" {
		t.Errorf("entries not in file order: %v, %v, %v", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestReadReference(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"single record", ">d1 reference\nACGTA\nCGTAC\n", "ACGTACGTAC"},
		{"records concatenated", ">a\nACGT\n>b\nTTGG\n", "ACGTTTGG"},
		{"no header", "ACGTN\nACGT", "ACGTNACGT"},
		{"crlf and foreign bytes", ">x\r\nAC-GT\r\nacgtNN\r\n", "ACGTNN"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("ref%d.fasta", i))
			writeFile(t, path, tt.content)
			got, err := readReference(path)
			if err != nil {
				t.Fatalf("readReference: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := readReference(filepath.Join(dir, "absent.fasta")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestLoadCatalog_Missing(t *testing.T) {
	c, err := LoadCatalog(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("missing catalog should not fail: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty catalog, got %d", c.Len())
	}

	matches, err := c.Scan(context.Background(), ">p\nACGT", DefaultThreshold)
	if err != nil || len(matches) != 0 {
		t.Errorf("expected no matches, got %v, %v", matches, err)
	}
}

func TestScan(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		genome  string
		wantIDs []string
	}{
		{"identical to D1", ">p\nACGTACGTAC\n", []string{"D1"}},
		{"one substitution is exactly 0.8", ">p\nACGTACGTAA\n", []string{"D1"}},
		{"two substitutions fall below", ">p\nACGTTCGTAA\n", nil},
		{"matches poly T", ">p\nTTTTTTTTTT\n", []string{"D4"}},
		{"too short for pre-filter", ">p\nACGT\n", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := c.Scan(ctx, tt.genome, DefaultThreshold)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			var ids []string
			for _, m := range matches {
				ids = append(ids, m.Disease.ID)
				if m.Similarity < DefaultThreshold || m.Similarity > 1 {
					t.Errorf("similarity %v out of range", m.Similarity)
				}
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("expected %v, got %v", tt.wantIDs, ids)
			}
		})
	}
}

func TestScan_Cancelled(t *testing.T) {
	c := newTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Scan(ctx, ">p\nACGTACGTAC\n", DefaultThreshold); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestDescribe(t *testing.T) {
	d := &Disease{ID: "D1", Name: "Huntington", Severity: 9}
	got := Describe(d, 0.8765)
	want := "Genomic similarity (87.65%) detected with Huntington (Severity: 9/10)"
	if got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}

func TestReporter_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", ReportFile)
	r := NewReporter(path)
	r.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }

	d := &Disease{ID: "D1", Name: `Cystic, "CF" Fibrosis`, Severity: 8}
	if err := r.Append("PAT000001", []MatchResult{NewMatchResult(d, 0.91234)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := r.Append("PAT000002", []MatchResult{NewMatchResult(d, 1)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(raw), `"Cystic, ""CF"" Fibrosis"`) {
		t.Errorf("name not quoted with doubled quotes:\n%s", raw)
	}

	rows, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	if err != nil {
		t.Fatalf("report is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(reportHeader, ",") {
		t.Errorf("unexpected header: %v", rows[0])
	}
	row := rows[1]
	if row[0] != "PAT000001" || row[1] != "D1" || row[2] != d.Name || row[3] != "8" || row[4] != "0.9123" {
		t.Errorf("unexpected row: %v", row)
	}
	if row[5] != "2024-01-15T12:00:00.000" {
		t.Errorf("unexpected detection date: %s", row[5])
	}
}

func TestReporter_NoMatchesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ReportFile)
	if err := NewReporter(path).Append("PAT000001", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("report should not be created without matches")
	}
}

func TestScreener_Screen(t *testing.T) {
	c := newTestCatalog(t)
	path := filepath.Join(t.TempDir(), ReportFile)
	s := NewScreener(c, NewReporter(path), 0, zerolog.Nop())

	n, err := s.Screen(context.Background(), "PAT000007", ">p\nACGTACGTAC\n")
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 match, got %d", n)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "PAT000007,D1,") {
		t.Errorf("report missing detection:\n%s", raw)
	}
}

type recordedScan struct {
	calls   int
	matches int
}

func (r *recordedScan) RecordScan(matches int, _ time.Duration) {
	r.calls++
	r.matches += matches
}

func TestScreener_RecordsMetrics(t *testing.T) {
	c := newTestCatalog(t)
	rec := &recordedScan{}
	s := NewScreener(c, NewReporter(filepath.Join(t.TempDir(), ReportFile)), 0, zerolog.Nop()).WithMetrics(rec)

	if _, err := s.Screen(context.Background(), "PAT000001", ">p\nACGTACGTAC\n"); err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if _, err := s.Screen(context.Background(), "PAT000002", ">p\nGGGGGGGGGGGGGGGG\n"); err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if rec.calls != 2 || rec.matches != 1 {
		t.Errorf("expected 2 scans with 1 match, got %+v", rec)
	}
}
