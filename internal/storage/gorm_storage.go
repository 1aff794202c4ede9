package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db     *gorm.DB
	driver string
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = "meterbill.db"
		}
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// SQLite has a single writer, and ":memory:" databases live per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &GormStorage{db: db, driver: driver}, nil
}

func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Token{},
		&CasbinRule{},
		&Property{},
		&Meter{},
		&Reading{},
		&Tariff{},
		&MonthlyCharge{},
		&Payment{},
		&ScheduledJob{},
	)
}

// Driver returns the dialect the storage was opened with.
func (s *GormStorage) Driver() string { return s.driver }

func (s *GormStorage) Transaction(ctx context.Context, fn func(tx Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStorage{db: tx, driver: s.driver})
	})
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PoolStats exposes the database/sql pool counters for metrics.
func (s *GormStorage) PoolStats() (sql.DBStats, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// AcquireAdvisoryLock tries to take a session level advisory lock on a
// dedicated connection. The returned release func must be called when ok is
// true. Non-postgres drivers always succeed since they run single-instance.
func (s *GormStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error) {
	if s.driver != "postgres" {
		return func() {}, true, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	release = func() {
		// Unlock with a fresh context so a cancelled job still frees the lock.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Close()
	}
	return release, true, nil
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, job ScheduledJob) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}

// first runs q.First and maps gorm.ErrRecordNotFound to (nil, nil).
func first[T any](q *gorm.DB, conds ...interface{}) (*T, error) {
	var out T
	if err := q.First(&out, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}
