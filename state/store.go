package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")
	keyTakenAt    = []byte("taken_at")
)

type (
	// Store persists snapshots so state survives an agent restart.
	Store interface {
		Save(s *Snapshot) error
		Load() (*Snapshot, error) //nil when nothing was saved
		Close() error
	}
	// BoltStore implements Store using BoltDB.
	BoltStore struct {
		db *bolt.DB
	}
)

// OpenBolt create or open a BoltStore at path.
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Save replaces the persisted snapshot with s.
func (b *BoltStore) Save(s *Snapshot) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketMeta} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		entries, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}
		for _, e := range s.Entries() {
			v, err := encMode.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", e.Key, err)
			}
			if err = entries.Put([]byte(e.Key), v); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}
		ts, err := s.TakenAt.MarshalBinary()
		if err != nil {
			return err
		}
		return meta.Put(keyTakenAt, ts)
	})
}

// Load the persisted snapshot.
func (b *BoltStore) Load() (s *Snapshot, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		if entries == nil {
			return nil
		}
		var takenAt time.Time
		if meta := tx.Bucket(bucketMeta); meta != nil {
			if v := meta.Get(keyTakenAt); v != nil {
				if err := takenAt.UnmarshalBinary(v); err != nil {
					return err
				}
			}
		}
		s = NewSnapshot(takenAt)
		return entries.ForEach(func(k, v []byte) error {
			var e Entry
			if err := cbor.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			s.entries[e.Key] = e
			return nil
		})
	})
	return
}

// Close the database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
