package main

import (
	"context"
	"fmt"

	"github.com/bher20/meterbill/internal/auth"
	"github.com/bher20/meterbill/internal/config"
	"github.com/bher20/meterbill/internal/logging"
	"github.com/bher20/meterbill/internal/migrate"
	"github.com/bher20/meterbill/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"db-driver":    "db_driver",
	"db-dsn":       "db_dsn",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"addr":         "http_addr",
	"auto-migrate": "auto_migrate",
	"broker":       "mqtt_broker",
	"topic":        "mqtt_topic",
	"schedule":     "statement_schedule",
	"archive-dir":  "tariff_archive_dir",
}

type app struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "meterbill",
		Short:         "Utility metering and billing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.String("db-driver", "", "storage driver: memory, sqlite or postgres")
	pf.String("db-dsn", "", "database DSN or sqlite file")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format: json or console")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
		newUsersCmd(a),
		newTariffsCmd(a),
		newIngestCmd(a),
		newWorkerCmd(a),
	)
	return root
}

// load reads configuration from defaults, the config file, METERBILL_*
// variables and flags, in increasing priority, then sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	v, err := config.New(a.configPath)
	if err != nil {
		return err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return nil
}

// openStorage applies the goose migrations (unless gorm auto-migration is
// enabled) and opens the configured backend.
func (a *app) openStorage(ctx context.Context) (storage.Storage, error) {
	if a.cfg.DBDriver != "memory" && !a.cfg.AutoMigrate {
		if err := migrate.Up(ctx, a.cfg.DBDriver, a.cfg.DBDSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	st, err := storage.Open(ctx, storage.Config{
		Driver:      a.cfg.DBDriver,
		DSN:         a.cfg.DBDSN,
		AutoMigrate: a.cfg.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}

func (a *app) authService(st storage.Storage) (*auth.Service, error) {
	access, err := auth.ParseTTL(a.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("access_token_ttl: %w", err)
	}
	refresh, err := auth.ParseTTL(a.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("refresh_token_ttl: %w", err)
	}
	return auth.NewService(st, auth.Options{
		AccessTTL:        access,
		RefreshTTL:       refresh,
		TariffsAdminOnly: a.cfg.TariffsAdminOnly,
	})
}

func closeStorage(st storage.Storage) {
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("close storage")
	}
}
