package offset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketName = "carry"
)

// BoltDBStore implements CarryStore using BoltDB
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore creates a new BoltDB carry store
func NewBoltDBStore(dbPath string) (*BoltDBStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout means another cslogwatch process owns the file
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB carry store initialized")

	return &BoltDBStore{db: db}, nil
}

// Get retrieves the carry for a given file
func (s *BoltDBStore) Get(ctx context.Context, filePath string) (*Carry, error) {
	var carry *Carry

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(filePath))
		if val == nil {
			return nil
		}

		var c Carry
		if err := json.Unmarshal(val, &c); err != nil {
			return fmt.Errorf("invalid carry value: %w", err)
		}
		carry = &c
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get carry: %w", err)
	}

	return carry, nil
}

// Set stores the carry for a given file
func (s *BoltDBStore) Set(ctx context.Context, filePath string, carry *Carry) error {
	val, err := json.Marshal(carry)
	if err != nil {
		return fmt.Errorf("failed to encode carry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(filePath), val)
	})

	if err != nil {
		return fmt.Errorf("failed to set carry: %w", err)
	}

	log.Debug().
		Str("file_path", filePath).
		Int("header_line", carry.HeaderLine).
		Msg("Open output block recorded")

	return nil
}

// Delete removes the carry for a given file
func (s *BoltDBStore) Delete(ctx context.Context, filePath string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(filePath))
	})

	if err != nil {
		return fmt.Errorf("failed to delete carry: %w", err)
	}

	return nil
}

// List returns all stored carries
func (s *BoltDBStore) List(ctx context.Context) (map[string]*Carry, error) {
	result := make(map[string]*Carry)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			var c Carry
			if err := json.Unmarshal(v, &c); err != nil {
				log.Warn().Err(err).Str("file_path", string(k)).Msg("Skipping unreadable carry")
				return nil
			}
			result[string(k)] = &c
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list carries: %w", err)
	}

	return result, nil
}

// Close closes the BoltDB database
func (s *BoltDBStore) Close() error {
	log.Info().Msg("Closing BoltDB carry store")
	return s.db.Close()
}
