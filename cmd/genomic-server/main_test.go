package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/genomic/genomic/internal/config"
	"github.com/genomic/genomic/internal/domain/patient"
	"github.com/genomic/genomic/internal/platform/telemetry"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	diseaseDir := t.TempDir()
	writeFile(t, filepath.Join(diseaseDir, "catalog.csv"), "diseaseId,name,severity,fastaFilename\nD1,Test Disease,7,d1.fasta\n")
	writeFile(t, filepath.Join(diseaseDir, "d1.fasta"), ">d1\nACGTACGTAC\n")

	return &config.Config{
		Port:           "0",
		Env:            "test",
		DataDir:        t.TempDir(),
		DiseaseDBDir:   diseaseDir,
		MaxWorkers:     4,
		MatchThreshold: 0.8,
		MaxFastaBytes:  1 << 20,
		MaxFrameBytes:  1 << 20,
		ReadTimeout:    time.Second,
		MetricsEnabled: true,
	}
}

func createTestPatient(t *testing.T, a *app) string {
	t.Helper()
	meta, err := patient.ParseMetadata([]byte(`{"fullName":"Ada","documentId":"A1","age":36,"sex":"F","email":"ada@example.com"}`))
	if err != nil {
		t.Fatal(err)
	}
	id, err := a.patients.CreatePatient(context.Background(), meta, ">s\nACGTACGTAC")
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return id
}

func TestAdmin_Health(t *testing.T) {
	a, err := newApp(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	createTestPatient(t, a)

	e := newAdminServer(a)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.PatientCount != 1 || body.ActivePatients != 1 || body.CatalogSize != 1 {
		t.Errorf("unexpected health body: %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestAdmin_Metrics(t *testing.T) {
	a, err := newApp(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	createTestPatient(t, a)

	e := newAdminServer(a)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := rec.Body.String()
	for _, want := range []string{"genomic_patients_total 1", "genomic_catalog_size 1", "genomic_detections_total 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestAdmin_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsEnabled = false
	a, err := newApp(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	createTestPatient(t, a)

	rec := httptest.NewRecorder()
	newAdminServer(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected /metrics to be absent, got %d", rec.Code)
	}
	if got := a.metrics.GetCounter(telemetry.MetricDetections); got != 0 {
		t.Errorf("expected no recorded detections, got %d", got)
	}
}

func TestAdmin_UnknownRoute(t *testing.T) {
	a, err := newApp(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	rec := httptest.NewRecorder()
	newAdminServer(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestServerTLS_SelfSignedWithoutCert(t *testing.T) {
	cfg, err := serverTLS(testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("serverTLS: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected one certificate, got %d", len(cfg.Certificates))
	}
}

func TestCatalogList(t *testing.T) {
	cfg := testConfig(t)
	cmd := catalogCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"list", "--dir", cfg.DiseaseDBDir})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "D1") || !strings.Contains(out.String(), "Test Disease") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestReadMetadata(t *testing.T) {
	meta, err := readMetadata(`{"fullName":"Ada","age":"36"}`)
	if err != nil {
		t.Fatalf("readMetadata: %v", err)
	}
	if *meta.FullName != "Ada" || int(*meta.Age) != 36 {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	path := filepath.Join(t.TempDir(), "meta.json")
	writeFile(t, path, `{"email":"a@b.c"}`)
	meta, err = readMetadata("@" + path)
	if err != nil {
		t.Fatalf("readMetadata(@file): %v", err)
	}
	if *meta.Email != "a@b.c" {
		t.Errorf("unexpected email %q", *meta.Email)
	}

	if _, err := readMetadata("not json"); err == nil {
		t.Error("expected error for invalid metadata")
	}
}
