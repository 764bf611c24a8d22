package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/genomic/genomic/internal/config"
	"github.com/genomic/genomic/internal/domain/patient"
	"github.com/genomic/genomic/internal/platform/client"
)

type clientFlags struct {
	addr       string
	caFile     string
	serverName string
	insecure   bool
	timeout    time.Duration
}

// connect resolves flags over SERVER_ADDR / TLS_CA_FILE / TLS_INSECURE.
func (f *clientFlags) connect(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	addr, caFile, insecure := cfg.ServerAddr, cfg.TLSCAFile, cfg.TLSInsecure
	if cmd.Flags().Changed("addr") {
		addr = f.addr
	}
	if cmd.Flags().Changed("ca") {
		caFile = f.caFile
	}
	if cmd.Flags().Changed("insecure") {
		insecure = f.insecure
	}

	tlsCfg, err := client.LoadTLSConfig(caFile, f.serverName, insecure)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		Addr:          addr,
		TLS:           tlsCfg,
		Timeout:       f.timeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}), nil
}

func clientCmd() *cobra.Command {
	f := &clientFlags{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Send requests to a running server",
	}
	cmd.PersistentFlags().StringVar(&f.addr, "addr", "", "server address host:port (overrides SERVER_ADDR)")
	cmd.PersistentFlags().StringVar(&f.caFile, "ca", "", "PEM file of trusted CAs (overrides TLS_CA_FILE)")
	cmd.PersistentFlags().StringVar(&f.serverName, "server-name", "", "expected certificate name")
	cmd.PersistentFlags().BoolVar(&f.insecure, "insecure", false, "skip certificate verification (development only)")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", client.DefaultTimeout, "request timeout")

	cmd.AddCommand(
		clientCreateCmd(f),
		clientGetCmd(f),
		clientUpdateCmd(f),
		clientDeleteCmd(f),
		clientCountCmd(f),
		clientRawCmd(f),
		clientBatchCmd(f),
		clientConnectionsCmd(f),
	)
	return cmd
}

func clientCreateCmd(f *clientFlags) *cobra.Command {
	var metaArg, fastaFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a patient with a FASTA sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := readMetadata(metaArg)
			if err != nil {
				return err
			}
			seq, err := readInput(fastaFile)
			if err != nil {
				return err
			}
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			id, err := c.CreatePatient(cmd.Context(), meta, seq)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&metaArg, "metadata", "", "metadata JSON, or @file to read it from a file")
	cmd.Flags().StringVar(&fastaFile, "fasta", "", "FASTA file, - for stdin")
	cmd.MarkFlagRequired("metadata")
	cmd.MarkFlagRequired("fasta")
	return cmd
}

func clientGetCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATIENT_ID",
		Short: "Print a patient record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			p, err := c.GetPatient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func clientUpdateCmd(f *clientFlags) *cobra.Command {
	var metaArg, fastaFile string
	cmd := &cobra.Command{
		Use:   "update PATIENT_ID",
		Short: "Update metadata keys and optionally replace the sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := readMetadata(metaArg)
			if err != nil {
				return err
			}
			var seq string
			if fastaFile != "" {
				if seq, err = readInput(fastaFile); err != nil {
					return err
				}
			}
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			if err := c.UpdatePatient(cmd.Context(), args[0], meta, seq); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "updated", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&metaArg, "metadata", "{}", "metadata JSON with the keys to change, or @file")
	cmd.Flags().StringVar(&fastaFile, "fasta", "", "replacement FASTA file, - for stdin")
	return cmd
}

func clientDeleteCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete PATIENT_ID",
		Short: "Deactivate a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			if err := c.DeletePatient(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
}

func clientCountCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of allocated patient ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			n, err := c.PatientCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func clientRawCmd(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "raw REQUEST_LINE",
		Short: "Send a literal request line and print the response line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.connect(cmd)
			if err != nil {
				return err
			}
			resp, err := c.DoRaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.String())
			return nil
		},
	}
}

// readMetadata accepts inline JSON or @path.
func readMetadata(arg string) (*patient.Metadata, error) {
	raw := []byte(arg)
	if len(arg) > 0 && arg[0] == '@' {
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		raw = b
	}
	return patient.ParseMetadata(raw)
}

func readInput(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}
