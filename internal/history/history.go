// Package history persists the most recent completions of each client.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultLimit is how many entries are kept per client.
const DefaultLimit = 10

// Config selects the history database.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN     string `mapstructure:"dsn"`
	Limit   int    `mapstructure:"limit" validate:"gte=0"`
}

// Entry is one completed optimization.
type Entry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	ClientID  string    `gorm:"type:varchar(255);not null;index:idx_history_client" json:"-"`
	Action    string    `gorm:"type:varchar(64);not null" json:"action"`
	Input     string    `gorm:"type:text;not null" json:"input"`
	Output    string    `gorm:"type:text;not null" json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the default table name.
func (Entry) TableName() string { return "optimization_history" }

// Store keeps at most limit entries per client.
type Store struct {
	db     *gorm.DB
	limit  int
	logger *zap.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:optigate.db?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("history: postgres driver requires a dsn")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", cfg.Driver, err)
	}
	return New(db, cfg.Limit, logger)
}

// New wraps an open database.
func New(db *gorm.DB, limit int, logger *zap.Logger) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db, limit: limit, logger: logger}, nil
}

// Record appends an entry and drops the client's entries beyond the limit.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ClientID == "" {
		return errors.New("history: client id is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&e).Error; err != nil {
			return fmt.Errorf("history: insert: %w", err)
		}
		keep := tx.Model(&Entry{}).
			Select("id").
			Where("client_id = ?", e.ClientID).
			Order("id DESC").
			Limit(s.limit)
		res := tx.Where("client_id = ? AND id NOT IN (?)", e.ClientID, keep).Delete(&Entry{})
		if res.Error != nil {
			return fmt.Errorf("history: trim: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			s.logger.Debug("trimmed history", zap.Int64("rows", res.RowsAffected))
		}
		return nil
	})
}

// Recent returns the client's entries, newest first.
func (s *Store) Recent(ctx context.Context, clientID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("id DESC").
		Limit(s.limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	return entries, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
