package cache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// kvRow is the single logical table data(key, payload, insertedAt) from
// spec §4.3, with the createdAt/updatedAt bookkeeping columns spec §6's
// persistent state layout calls for.
type kvRow struct {
	Key        string `gorm:"column:key;primaryKey"`
	Payload    []byte `gorm:"column:payload"`
	InsertedAt int64  `gorm:"column:ts;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (kvRow) TableName() string { return "data" }

// sqliteKV is the default embedded persistent tier, a single file opened
// through gorm's sqlite driver.
type sqliteKV struct {
	db *gorm.DB
}

func newSQLiteKV(path string) (*sqliteKV, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WithMessage(err, "failed to create KV directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to open sqlite KV store")
	}

	if err := db.AutoMigrate(&kvRow{}); err != nil {
		return nil, errors.WithMessage(err, "failed to migrate KV schema")
	}

	return &sqliteKV{db: db}, nil
}

func (s *sqliteKV) Get(key string) (*kvRecord, error) {
	var row kvRow
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read KV key %q", key)
	}
	return &kvRecord{Payload: row.Payload, InsertedAt: time.UnixMilli(row.InsertedAt)}, nil
}

func (s *sqliteKV) Put(key string, payload []byte, insertedAt time.Time) error {
	row := kvRow{Key: key, Payload: payload, InsertedAt: insertedAt.UnixMilli()}
	err := s.db.Save(&row).Error
	return errors.WithMessagef(err, "failed to upsert KV key %q", key)
}

func (s *sqliteKV) Delete(key string) error {
	err := s.db.Where("key = ?", key).Delete(&kvRow{}).Error
	return errors.WithMessagef(err, "failed to delete KV key %q", key)
}

func (s *sqliteKV) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("ts < ?", cutoff.UnixMilli()).Delete(&kvRow{})
	if res.Error != nil {
		return 0, errors.WithMessage(res.Error, "failed to sweep KV store")
	}
	return res.RowsAffected, nil
}

func (s *sqliteKV) Count() (int64, error) {
	var count int64
	err := s.db.Model(&kvRow{}).Count(&count).Error
	return count, errors.WithMessage(err, "failed to count KV entries")
}

func (s *sqliteKV) Stats() (kvStats, error) {
	var stats kvStats
	var row struct {
		Count int64
		MinTs int64
		MaxTs int64
	}
	err := s.db.Model(&kvRow{}).
		Select("COUNT(*) as count, COALESCE(MIN(ts),0) as min_ts, COALESCE(MAX(ts),0) as max_ts").
		Scan(&row).Error
	if err != nil {
		return stats, errors.WithMessage(err, "failed to stat KV store")
	}
	stats.Count = row.Count
	if row.MinTs > 0 {
		stats.MinTs = time.UnixMilli(row.MinTs)
	}
	if row.MaxTs > 0 {
		stats.MaxTs = time.UnixMilli(row.MaxTs)
	}
	return stats, nil
}

func (s *sqliteKV) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithMessage(err, "failed to obtain sqlite handle for close")
	}
	return sqlDB.Close()
}
