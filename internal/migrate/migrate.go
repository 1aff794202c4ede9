// Package migrate applies the embedded SQL schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var embedMigrations embed.FS

const tableName = "schema_migrations"

func configureGoose(driver string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName(tableName)

	switch driver {
	case "sqlite", "sqlite3":
		return goose.SetDialect("sqlite3")
	case "postgres", "pgx":
		return goose.SetDialect("postgres")
	}
	return fmt.Errorf("unsupported driver for goose: %s", driver)
}

func migrationDir(driver string) string {
	if driver == "postgres" || driver == "pgx" {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// openDB maps storage driver names onto registered database/sql drivers.
func openDB(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "meterbill.db"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	case "postgres", "pgx":
		return sql.Open("pgx", dsn)
	}
	return nil, fmt.Errorf("unsupported driver: %s", driver)
}

func withDB(driver, dsn string, fn func(db *sql.DB, dir string) error) error {
	if driver == "memory" {
		return fmt.Errorf("the memory driver has no schema to migrate")
	}
	if err := configureGoose(driver); err != nil {
		return err
	}
	db, err := openDB(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db, migrationDir(driver))
}

func Up(ctx context.Context, driver, dsn string) error {
	return withDB(driver, dsn, func(db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

func Down(ctx context.Context, driver, dsn string) error {
	return withDB(driver, dsn, func(db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	})
}

func Status(ctx context.Context, driver, dsn string) error {
	return withDB(driver, dsn, func(db *sql.DB, dir string) error {
		return goose.StatusContext(ctx, db, dir)
	})
}

// Version returns the applied schema version.
func Version(ctx context.Context, driver, dsn string) (int64, error) {
	var v int64
	err := withDB(driver, dsn, func(db *sql.DB, _ string) error {
		var err error
		v, err = goose.GetDBVersionContext(ctx, db)
		return err
	})
	return v, err
}
