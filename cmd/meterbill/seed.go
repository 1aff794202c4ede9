package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/seed"
	"github.com/spf13/cobra"
)

func newSeedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo or sample data",
	}
	cmd.AddCommand(newSeedDemoCmd(a), newSeedSampleCmd(a))
	return cmd
}

func newSeedDemoCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Provision the demo account's properties, meters and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.DemoUsername == "" {
				return fmt.Errorf("demo_username is not set")
			}
			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)

			u, err := st.GetUserByUsername(ctx, a.cfg.DemoUsername)
			if err != nil {
				return err
			}
			if u == nil {
				if password == "" {
					return fmt.Errorf("user %q does not exist; pass --password to create it", a.cfg.DemoUsername)
				}
				authSvc, err := a.authService(st)
				if err != nil {
					return err
				}
				if u, err = authSvc.Register(ctx, a.cfg.DemoUsername, password, "", ""); err != nil {
					return err
				}
			}

			svc := billing.NewService(st)
			created, err := seed.NewProvisioner(st, svc, a.cfg.DemoUsername).EnsureDemo(ctx, u)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "demo data provisioned for %s\n", u.Username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already has properties, nothing to do\n", u.Username)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password used when the demo user has to be created")
	return cmd
}

func newSeedSampleCmd(a *app) *cobra.Command {
	var (
		months  int
		rngSeed int64
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate a multi-year dataset for user " + seed.SampleUsername,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if months < 1 {
				return fmt.Errorf("--months must be positive")
			}
			st, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(st)

			authSvc, err := a.authService(st)
			if err != nil {
				return err
			}
			if rngSeed == 0 {
				rngSeed = time.Now().UnixNano()
			}
			sampler := seed.NewSampler(st, authSvc, billing.NewService(st), rand.New(rand.NewSource(rngSeed)))
			res, err := sampler.Seed(ctx, months)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s / %s: %d properties, %d readings, %d payments\n",
				res.User.Username, seed.SamplePassword, res.Properties, res.Readings, res.Payments)
			return nil
		},
	}
	cmd.Flags().IntVar(&months, "months", 36, "months of history to generate")
	cmd.Flags().Int64Var(&rngSeed, "seed", 0, "random seed (default: current time)")
	return cmd
}
