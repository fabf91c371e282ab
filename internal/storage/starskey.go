package storage

import (
	"context"
	"fmt"

	"github.com/starskey-io/starskey"

	"github.com/chis/regview/internal/logging"
)

// StarskeyStorage implements Storage on an embedded Starskey LSM tree.
type StarskeyStorage struct {
	db  *starskey.Starskey
	dir string
}

// NewStarskeyStorage opens (or creates) a Starskey database in dir.
func NewStarskeyStorage(dir string) (*StarskeyStorage, error) {
	db, err := starskey.Open(&starskey.Config{
		Permission:        0755,
		Directory:         dir,
		FlushThreshold:    4 * 1024 * 1024, // profiles and tokens are tiny
		MaxLevel:          3,
		SizeFactor:        10,
		BloomFilter:       true,
		SuRF:              false,
		Logging:           false,
		Compression:       true,
		CompressionOption: starskey.SnappyCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open starskey at %s: %w", dir, err)
	}

	logging.Debug("Starskey store opened at %s", dir)
	return &StarskeyStorage{db: db, dir: dir}, nil
}

// Get implements Storage.Get.
func (s *StarskeyStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	value, err := s.db.Get([]byte(key))
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if value == nil {
		return "", false, nil
	}
	return string(value), true, nil
}

// Set implements Storage.Set.
func (s *StarskeyStorage) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *starskey.Txn) error {
		txn.Put([]byte(key), []byte(value))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete implements Storage.Delete.
func (s *StarskeyStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, err := s.db.Get([]byte(key))
	if err != nil {
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if existing == nil {
		return nil
	}
	if err := s.db.Delete([]byte(key)); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *StarskeyStorage) Close() error {
	logging.Debug("Closing starskey store: %s", s.dir)
	return s.db.Close()
}
