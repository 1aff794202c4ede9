package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bher20/meterbill/internal/tariffsheet"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newTariffsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tariffs",
		Short: "Manage tariffs",
	}

	var dryRun bool
	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Import tariffs from a PDF or plain text tariff sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read sheet: %w", err)
			}
			rows, err := tariffsheet.Parse(data)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tPRICE\tUNIT\tFROM\tTO")
			for _, r := range rows {
				to := "open"
				if r.ValidTo != nil {
					to = r.ValidTo.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ResourceType, r.ValuePerUnit.StringFixed(2), r.Unit, r.ValidFrom.Format("2006-01-02"), to)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if dryRun {
				return nil
			}

			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)

			imported, err := tariffsheet.Import(ctx, st, rows)
			if err != nil {
				return err
			}
			if a.cfg.TariffArchiveDir != "" {
				path, err := tariffsheet.Archive(a.cfg.TariffArchiveDir, args[0], data, time.Now())
				if err != nil {
					return fmt.Errorf("archive sheet: %w", err)
				}
				log.Info().Str("path", path).Msg("tariff sheet archived")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d tariffs\n", len(imported))
			return nil
		},
	}
	imp.Flags().String("archive-dir", "", "keep a timestamped copy of the sheet in this directory")
	imp.Flags().BoolVar(&dryRun, "dry-run", false, "parse and print the sheet without saving")

	cmd.AddCommand(imp)
	return cmd
}
