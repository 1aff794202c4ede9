package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bher20/meterbill/internal/migrate"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	step := func(use, short string, fn func(ctx context.Context, driver, dsn string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := a.requireSQL(); err != nil {
					return err
				}
				return fn(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
			},
		}
	}

	cmd.AddCommand(
		step("up", "Apply all pending migrations", migrate.Up),
		step("down", "Roll back the latest migration", migrate.Down),
		step("status", "Print the state of every migration", migrate.Status),
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := a.requireSQL(); err != nil {
					return err
				}
				v, err := migrate.Version(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
	)
	return cmd
}

func (a *app) requireSQL() error {
	if a.cfg.DBDriver == "memory" {
		return errors.New("migrations need db_driver sqlite or postgres")
	}
	return nil
}
