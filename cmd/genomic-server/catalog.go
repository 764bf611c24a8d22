package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/genomic/genomic/internal/config"
	"github.com/genomic/genomic/internal/domain/disease"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the disease reference catalog",
	}

	var dir string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries and whether their reference sequence loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dir = cfg.DiseaseDBDir
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(zerolog.WarnLevel)
			catalog, err := disease.LoadCatalog(dir, logger)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSEVERITY\tFILE\tLOADED")
			for _, d := range catalog.All() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", d.ID, d.Name, d.Severity, d.FastaFilename, catalog.HasSequence(d.ID))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&dir, "dir", "", "catalog directory (overrides DISEASE_DB_DIR)")

	cmd.AddCommand(listCmd)
	return cmd
}
