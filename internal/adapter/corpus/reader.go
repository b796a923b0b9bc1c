// Package corpus reads document records from disk: the metadata JSON array
// that sits next to a local index, and loose record files used to build one.
package corpus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"siteqa/internal/domain"
)

// Record is a document with an optional precomputed embedding.
type Record struct {
	Document  domain.Document
	Embedding []float32
}

// LoadMetadata reads a JSON array of documents. Its order must match the
// order of the local index it accompanies.
func LoadMetadata(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var docs []domain.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", path, err)
	}
	return docs, nil
}

// SaveMetadata writes docs as an indented JSON array, replacing the file
// atomically.
func SaveMetadata(path string, docs []domain.Document) error {
	if docs == nil {
		docs = []domain.Document{}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadRecords parses one record file, holding either a single object or an
// array of objects.
func ReadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		rec, err := parseRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(raw json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec.Document); err != nil {
		return rec, err
	}
	var extra struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &extra); err != nil {
		return rec, err
	}
	rec.Embedding = extra.Embedding
	return rec, nil
}

// ReadAll walks root with the given globs and returns every record in file
// path order. A repeated id is an integrity error.
func ReadAll(root string, includes, excludes []string) ([]Record, error) {
	files, err := NewWalker(includes, excludes).Walk(root)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string)
	var records []Record
	for _, f := range files {
		recs, err := ReadRecords(f.Path)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			if prev, ok := seen[r.Document.ID]; ok {
				return nil, fmt.Errorf("%w: duplicate id %s in %s and %s", domain.ErrIntegrity, r.Document.ID, prev, f.Path)
			}
			seen[r.Document.ID] = f.Path
			records = append(records, r)
		}
	}
	return records, nil
}
