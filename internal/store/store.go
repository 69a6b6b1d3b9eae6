// Package store persists prediction results.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Result is one stored prediction. Rows are only ever inserted.
type Result struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ImageURL  string    `gorm:"column:image_url;size:2048" json:"image_url"`
	Disease   string    `gorm:"size:255;index" json:"disease"`
	Treatment string    `gorm:"type:text" json:"treatment"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Result) TableName() string { return "prediction_results" }

type ResultStore struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the results table. postgres:// and
// postgresql:// DSNs use PostgreSQL; sqlite:// DSNs and bare paths use SQLite.
func Open(dsn string, log *zap.Logger) (*ResultStore, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Result{}); err != nil {
		return nil, fmt.Errorf("failed to migrate results table: %w", err)
	}

	log.Info("database ready", zap.String("dialect", dialector.Name()))
	return &ResultStore{db: db}, nil
}

// zapWriter feeds gorm's logger into the process zap logger, so SQL errors
// and slow queries end up in the same stream as everything else.
type zapWriter struct {
	log *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

func newGormLogger(log *zap.Logger) logger.Interface {
	return logger.New(zapWriter{log: log.Named("gorm").Sugar()}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("empty database URL")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("unsupported database URL scheme in %q", dsn[:strings.Index(dsn, "://")])
	default:
		return sqlite.Open(dsn), nil
	}
}

func (s *ResultStore) Save(ctx context.Context, r *Result) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *ResultStore) Recent(ctx context.Context, limit int) ([]Result, error) {
	var results []Result
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	return results, nil
}

func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
