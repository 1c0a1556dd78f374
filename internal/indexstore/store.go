// Package indexstore persists stream indexes in a BoltDB file so each
// transport stream is only scanned once.
package indexstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zsiec/vseek/internal/demux"
)

var bucketIndexes = []byte("indexes")

// formatVersion is bumped whenever the stored index layout changes; entries
// written under another version are ignored.
const formatVersion = 1

type record struct {
	Version int          `json:"version"`
	Saved   time.Time    `json:"saved"`
	Index   *demux.Index `json:"index"`
}

// Store implements demux.IndexCache on top of BoltDB.
type Store struct {
	db *bolt.DB
}

var _ demux.IndexCache = (*Store)(nil)

// Open creates dir if needed and opens the index database inside it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("indexstore: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, "index.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("indexstore: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIndexes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("indexstore: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the index stored under key.
func (s *Store) Get(key string) (*demux.Index, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketIndexes).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false, err
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("indexstore: decode %s: %w", key, err)
	}
	if rec.Version != formatVersion || rec.Index == nil {
		return nil, false, nil
	}
	return rec.Index, true, nil
}

// Put stores idx under key, replacing any previous entry.
func (s *Store) Put(key string, idx *demux.Index) error {
	data, err := json.Marshal(record{Version: formatVersion, Saved: time.Now().UTC(), Index: idx})
	if err != nil {
		return fmt.Errorf("indexstore: encode %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).Put([]byte(key), data)
	})
}

// Delete removes the entry for key.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).Delete([]byte(key))
	})
}

// Len returns the number of stored indexes.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketIndexes).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
