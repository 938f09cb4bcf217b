package nullifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NullifierModel is one consumed nullifier. The primary key makes the insert
// in TryConsume the single point of serialization.
type NullifierModel struct {
	Nullifier  string    `gorm:"primaryKey;size:64"`
	ConsumedAt time.Time `gorm:"not null"`
}

func (NullifierModel) TableName() string { return "nullifiers" }

// PostgresStore is the durable backend. Rows are never deleted by the service.
type PostgresStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenPostgres connects to dsn and migrates the nullifiers table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresStore(ctx, gdb)
}

func NewPostgresStore(ctx context.Context, db *gorm.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("nil gorm db")
	}
	if err := db.WithContext(ctx).AutoMigrate(&NullifierModel{}); err != nil {
		return nil, fmt.Errorf("migrate nullifiers: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) TryConsume(ctx context.Context, nullifier string) (bool, error) {
	if nullifier == "" {
		return false, ErrEmptyNullifier
	}
	model := NullifierModel{Nullifier: nullifier, ConsumedAt: s.now().UTC()}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, fmt.Errorf("insert nullifier: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresStore) Has(ctx context.Context, nullifier string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&NullifierModel{}).
		Where("nullifier = ?", nullifier).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count nullifier: %w", err)
	}
	return count > 0, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
