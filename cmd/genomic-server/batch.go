package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/genomic/genomic/internal/domain/patient"
	"github.com/genomic/genomic/internal/platform/client"
)

const maxBatchCount = 100

const batchSequence = "ACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAGCTAGCTAGCTA\n" +
	"GCTAGCTAGCGATCGATCGTAAACGTACGTGGCCTTAAACCGGTAGC\n" +
	"TAGCTAGGCTAGCTAGCTAGCTAGCTAGCTAGCGATCGATCGTAA"

// syncWriter serialises progress lines written from concurrent requests.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

type batchResult struct {
	Succeeded int
	Failed    int
}

// testPatient builds the generated record for the n-th test patient.
func testPatient(n int) (*patient.Metadata, string) {
	sex := "F"
	if n%2 == 0 {
		sex = "M"
	}
	meta := &patient.Metadata{
		FullName:      patient.String(fmt.Sprintf("Test Patient %d", n)),
		DocumentID:    patient.String(fmt.Sprintf("TEST%04d", n)),
		Age:           patient.Int(25 + n%45),
		Sex:           patient.String(sex),
		Email:         patient.String(fmt.Sprintf("test.patient%d@example.com", n)),
		ClinicalNotes: patient.String(fmt.Sprintf("Automated test patient #%d", n)),
	}
	return meta, fmt.Sprintf(">test_patient_%d\n%s", n, batchSequence)
}

// runBatch creates count generated patients numbered after the server's
// current patient count. Individual failures are reported and counted,
// they do not stop the batch.
func runBatch(ctx context.Context, c *client.Client, count, concurrency int, out io.Writer) (batchResult, error) {
	if count < 1 || count > maxBatchCount {
		return batchResult{}, fmt.Errorf("count must be between 1 and %d, got %d", maxBatchCount, count)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	existing, err := c.PatientCount(ctx)
	if err != nil {
		return batchResult{}, fmt.Errorf("read patient count: %w", err)
	}
	base := existing + 1
	progress := &syncWriter{w: out}
	progress.printf("Creating %d test patients starting from number %d\n", count, base)

	var succeeded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := 0; i < count; i++ {
		n := base + i
		g.Go(func() error {
			meta, seq := testPatient(n)
			id, err := c.CreatePatient(ctx, meta, seq)
			if err != nil {
				failed.Add(1)
				progress.printf("test patient %d failed: %v\n", n, err)
				return nil
			}
			succeeded.Add(1)
			progress.printf("test patient %d created as %s\n", n, id)
			return nil
		})
	}
	g.Wait()

	res := batchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	progress.printf("Batch completed. Succeeded: %d, Failed: %d\n", res.Succeeded, res.Failed)
	return res, nil
}

// runConnections opens count connections at once, each carrying one
// PATIENT_COUNT request.
func runConnections(ctx context.Context, c *client.Client, count int, out io.Writer) (batchResult, error) {
	if count < 1 {
		return batchResult{}, fmt.Errorf("count must be positive, got %d", count)
	}

	progress := &syncWriter{w: out}
	var succeeded, failed atomic.Int64
	var g errgroup.Group
	for i := 1; i <= count; i++ {
		i := i
		g.Go(func() error {
			n, err := c.PatientCount(ctx)
			if err != nil {
				failed.Add(1)
				progress.printf("connection %d failed: %v\n", i, err)
				return nil
			}
			succeeded.Add(1)
			progress.printf("connection %d received count %d\n", i, n)
			return nil
		})
	}
	g.Wait()

	res := batchResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	progress.printf("%d connections completed. Succeeded: %d, Failed: %d\n", count, res.Succeeded, res.Failed)
	return res, nil
}

func clientBatchCmd(f *clientFlags) *cobra.Command {
	var count, concurrency int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Create generated test patients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			res, err := runBatch(cmd.Context(), c, count, concurrency, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d creations failed", res.Failed, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, fmt.Sprintf("number of patients to create (1-%d)", maxBatchCount))
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "requests in flight at once")
	return cmd
}

func clientConnectionsCmd(f *clientFlags) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Open simultaneous connections and report how many were served",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			res, err := runConnections(cmd.Context(), c, count, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d connections failed", res.Failed, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of simultaneous connections")
	return cmd
}
