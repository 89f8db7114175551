// Package pendingorder stages the checkout payload between checkout and
// payment confirmation. The slot is durable storage, not a cache: the
// confirmation step may happen after the customer leaves for their mobile
// money app and comes back, or after the process restarts.
package pendingorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/samitochi04/cameroon-marketplace-sub000/internal/core/datamodel/order"
)

// slotKey is the fixed name of the single staged-order slot. Only one
// checkout can be in flight per browsing context, so saving overwrites.
const slotKey = "checkout"

type stagedRecord struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Payload   string    `gorm:"column:payload;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (stagedRecord) TableName() string {
	return "staged_orders"
}

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open creates or opens the staging database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open staging store: %w", err)
	}
	return NewStore(db, logger)
}

// NewStore wraps an existing gorm handle; tests pass an in-memory sqlite DB.
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&stagedRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate staging store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Save stages the order payload, overwriting any previous slot content.
func (s *Store) Save(pending *order.PendingOrder) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending order: %w", err)
	}

	record := stagedRecord{
		Key:       slotKey,
		Payload:   string(payload),
		UpdatedAt: time.Now().UTC(),
	}

	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		s.logger.Error("failed to stage pending order", "error", err)
		return fmt.Errorf("failed to stage pending order: %w", err)
	}

	s.logger.Info("pending order staged",
		"items", len(pending.Items),
		"total_amount", pending.TotalAmount)
	return nil
}

// Load returns the staged order, or nil when the slot is empty.
func (s *Store) Load() (*order.PendingOrder, error) {
	var record stagedRecord
	err := s.db.Where("key = ?", slotKey).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending order: %w", err)
	}

	var pending order.PendingOrder
	if err := json.Unmarshal([]byte(record.Payload), &pending); err != nil {
		return nil, fmt.Errorf("staged order payload is corrupt: %w", err)
	}
	return &pending, nil
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Clear empties the slot. Called exactly once, on successful reconciliation.
func (s *Store) Clear() error {
	err := s.db.Where("key = ?", slotKey).Delete(&stagedRecord{}).Error
	if err != nil {
		s.logger.Error("failed to clear staged order", "error", err)
		return fmt.Errorf("failed to clear staged order: %w", err)
	}
	s.logger.Info("staged order cleared")
	return nil
}
