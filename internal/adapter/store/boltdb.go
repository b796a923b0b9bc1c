package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

var (
	bucketDocs = []byte("docs")
	bucketMeta = []byte("meta")
)

// BoltStore is a metadata store in a single bbolt file. Every PutMany runs
// in one write transaction, so a batch is stored completely or not at all.
type BoltStore struct {
	db *bbolt.DB
}

var _ port.MetadataStore = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Open opens a bbolt file with the buckets siteqa needs.
func Open(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{bucketDocs, bucketMeta, bucketVectors}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewBoltStoreFromDB wraps an already open database, for sharing one file
// between the metadata store and the bolt vector index.
func NewBoltStoreFromDB(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

func (s *BoltStore) Get(_ context.Context, id string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return json.Unmarshal(data, &doc)
	})
	return doc, err
}

func (s *BoltStore) PutMany(_ context.Context, docs []domain.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocs)
		for _, doc := range docs {
			if doc.ID == "" {
				return fmt.Errorf("%w: document id is required", domain.ErrValidation)
			}
			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(doc.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeleteAll(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketDocs); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketDocs)
		return err
	})
}

func (s *BoltStore) Count(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketDocs).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) ListIDs(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
