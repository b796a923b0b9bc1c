package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"siteqa/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keyIndexInfo = []byte("index_info")

// IndexInfo identifies what a bolt vector index was built with. Vectors from
// a different model or dimension must never be mixed into it.
type IndexInfo struct {
	Version   int    `json:"version"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// GetIndexInfo retrieves the index info, or nil for a fresh database.
func GetIndexInfo(db *bbolt.DB) (*IndexInfo, error) {
	var info *IndexInfo
	err := db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyIndexInfo)
		if data == nil {
			return nil
		}
		info = &IndexInfo{}
		return json.Unmarshal(data, info)
	})
	return info, err
}

// SetIndexInfo stores the index info.
func SetIndexInfo(db *bbolt.DB, info IndexInfo) error {
	return db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyIndexInfo, data)
	})
}

// CheckIndexInfo records want on a fresh database and otherwise verifies the
// stored info is compatible with it.
func CheckIndexInfo(db *bbolt.DB, want IndexInfo) error {
	want.Version = CurrentSchemaVersion
	info, err := GetIndexInfo(db)
	if err != nil {
		return fmt.Errorf("failed to read index info: %w", err)
	}
	if info == nil {
		return SetIndexInfo(db, want)
	}

	switch {
	case info.Version > CurrentSchemaVersion:
		return fmt.Errorf("%w: index created by newer version (v%d > v%d)", domain.ErrConfiguration, info.Version, CurrentSchemaVersion)
	case info.Dimension != want.Dimension:
		return fmt.Errorf("index has dimension %d, expected %d: %w", info.Dimension, want.Dimension, domain.ErrDimensionMismatch)
	case info.Model != "" && want.Model != "" && info.Model != want.Model:
		return fmt.Errorf("%w: index was built with model %q, configured model is %q", domain.ErrConfiguration, info.Model, want.Model)
	}

	if info.Version < CurrentSchemaVersion {
		return SetIndexInfo(db, want)
	}
	return nil
}
