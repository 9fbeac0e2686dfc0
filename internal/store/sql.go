package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pathakanu/remindbot/internal/model"
	"gorm.io/gorm"
)

const metaRowID = 1

// ledgerMeta is the single row holding the scalar fields of the ledger.
type ledgerMeta struct {
	ID           uint   `gorm:"primaryKey;autoIncrement:false"`
	Version      int    `gorm:"not null"`
	LastSeenSec  int64  `gorm:"not null;default:0"`
	LastSeenNsec int32  `gorm:"not null;default:0"`
	NextID       uint64 `gorm:"not null"`
}

func (ledgerMeta) TableName() string { return "ledger_meta" }

// reminderRow stores one reminder; Position preserves insertion order.
type reminderRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	Position    int    `gorm:"index;not null"`
	Text        string `gorm:"type:text;not null"`
	Author      string `gorm:"not null"`
	CreatedSec  int64  `gorm:"not null;default:0"`
	CreatedNsec int32  `gorm:"not null;default:0"`
	Visibility  string `gorm:"not null"`
}

func (reminderRow) TableName() string { return "reminders" }

// SQLStore keeps the ledger in a relational database through GORM.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the schema and seeds an empty ledger when none exists.
func NewSQLStore(ctx context.Context, db *gorm.DB) (*SQLStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&ledgerMeta{}, &reminderRow{}); err != nil {
		return nil, storageErr("migrate", err)
	}

	s := &SQLStore{db: db}

	var count int64
	if err := db.WithContext(ctx).Model(&ledgerMeta{}).Where("id = ?", metaRowID).Count(&count).Error; err != nil {
		return nil, storageErr("init", err)
	}
	if count == 0 {
		if err := s.Save(ctx, model.NewLedgerState()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Load reads the meta row and all reminders in a single transaction.
func (s *SQLStore) Load(ctx context.Context) (model.LedgerState, error) {
	var (
		meta ledgerMeta
		rows []reminderRow
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&meta, metaRowID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: ledger meta row missing", ErrCorrupt)
			}
			return err
		}
		return tx.Order("position ASC").Find(&rows).Error
	})
	if err != nil {
		return model.LedgerState{}, storageErr("load", err)
	}

	if meta.Version != SnapshotVersion {
		return model.LedgerState{}, storageErr("load", fmt.Errorf("%w: unsupported schema version %d", ErrCorrupt, meta.Version))
	}

	lastSeen, err := joinTime(meta.LastSeenSec, meta.LastSeenNsec)
	if err != nil {
		return model.LedgerState{}, storageErr("load", err)
	}
	state := model.LedgerState{
		LastSeenAt: lastSeen,
		NextID:     meta.NextID,
		Reminders:  make([]model.Reminder, 0, len(rows)),
	}
	for _, row := range rows {
		reminder, err := toReminder(row.ID, row.Text, row.Author, row.CreatedSec, row.CreatedNsec, row.Visibility)
		if err != nil {
			return model.LedgerState{}, storageErr("load", err)
		}
		state.Reminders = append(state.Reminders, reminder)
	}
	return state, nil
}

// Save rewrites the whole ledger inside one transaction.
func (s *SQLStore) Save(ctx context.Context, state model.LedgerState) error {
	lastSeenSec, lastSeenNsec := model.SplitTime(state.LastSeenAt)
	meta := ledgerMeta{
		ID:           metaRowID,
		Version:      SnapshotVersion,
		LastSeenSec:  lastSeenSec,
		LastSeenNsec: lastSeenNsec,
		NextID:       state.NextID,
	}

	rows := make([]reminderRow, 0, len(state.Reminders))
	for i, r := range state.Reminders {
		createdSec, createdNsec := model.SplitTime(r.CreatedAt)
		rows = append(rows, reminderRow{
			ID:          r.ID,
			Position:    i,
			Text:        r.Text,
			Author:      r.Author,
			CreatedSec:  createdSec,
			CreatedNsec: createdNsec,
			Visibility:  string(r.Visibility),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&meta).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&reminderRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	return storageErr("save", err)
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
