package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bher20/meterbill/internal/api"
	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/seed"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8000)")
	cmd.Flags().Bool("auto-migrate", false, "create the schema with gorm AutoMigrate instead of goose")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	st, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(st)

	authSvc, err := a.authService(st)
	if err != nil {
		return err
	}
	svc := billing.NewService(st)

	deps := api.Deps{
		Storage:          st,
		Auth:             authSvc,
		Billing:          svc,
		RequestTimeout:   a.cfg.RequestTimeout,
		TariffArchiveDir: a.cfg.TariffArchiveDir,
	}
	if a.cfg.DemoUsername != "" {
		deps.Demo = seed.NewProvisioner(st, svc, a.cfg.DemoUsername)
	}
	srv := api.NewServer(a.cfg.HTTPAddr, api.NewRouter(deps))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", a.cfg.DBDriver).Msg("meterbill listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
