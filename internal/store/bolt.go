package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketNode     = []byte("node")
	bucketStatuses = []byte("statuses")
	keyNodeState   = []byte("state")
)

// BoltStore keeps the node state and the last status per server in a bbolt
// file. Values are JSON.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketNode, bucketStatuses} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// put stores v as JSON under key.
func (s *BoltStore) put(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

// get decodes the JSON under key into v. A missing key yields ErrNotFound.
func (s *BoltStore) get(bucket, key []byte, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) SaveNodeState(state *NodeState) error {
	return s.put(bucketNode, keyNodeState, state)
}

func (s *BoltStore) GetNodeState() (*NodeState, error) {
	var state NodeState
	if err := s.get(bucketNode, keyNodeState, &state); err != nil {
		return nil, fmt.Errorf("node state: %w", err)
	}
	return &state, nil
}

// SaveStatus replaces the record kept for the record's type and source.
func (s *BoltStore) SaveStatus(rec *StatusRecord) error {
	return s.put(bucketStatuses, statusKey(rec.Type, rec.Src), rec)
}

func (s *BoltStore) GetStatus(eventType string, src uint16) (*StatusRecord, error) {
	var rec StatusRecord
	if err := s.get(bucketStatuses, statusKey(eventType, src), &rec); err != nil {
		return nil, fmt.Errorf("status %s from 0x%04X: %w", eventType, src, err)
	}
	return &rec, nil
}

// ListStatuses returns every record in key order: by type, then source.
func (s *BoltStore) ListStatuses() ([]*StatusRecord, error) {
	var recs []*StatusRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatuses)
		recs = make([]*StatusRecord, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			rec := new(StatusRecord)
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("status %s: %w", k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteStatuses drops every recorded status.
func (s *BoltStore) DeleteStatuses() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketStatuses); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketStatuses)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
