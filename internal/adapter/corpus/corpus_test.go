package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"siteqa/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "metadata.json")
	docs := []domain.Document{
		{ID: "1", Title: "Pricing", Content: "Plans", URL: "https://example.com/pricing"},
		{ID: "2", Title: "Shipping", Content: "Free", URL: "https://example.com/shipping"},
	}
	if err := SaveMetadata(path, docs); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[1] != docs[1] {
		t.Errorf("unexpected metadata %+v", loaded)
	}
}

func TestLoadMetadata_NumericIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	writeFile(t, path, `[{"id": 7, "title": "Returns", "content": "30 days", "url": "u", "extra": true}]`)

	docs, err := LoadMetadata(path)
	if err != nil {
		t.Fatal(err)
	}
	if docs[0].ID != "7" {
		t.Errorf("expected id 7, got %q", docs[0].ID)
	}
}

func TestReadAll(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pages", "b.json"), `{"id": "b", "title": "B", "embedding": [0.5, 0.5]}`)
	writeFile(t, filepath.Join(root, "pages", "a.json"), `[{"id": "a1", "title": "A1"}, {"id": "a2", "title": "A2"}]`)
	writeFile(t, filepath.Join(root, "drafts", "c.json"), `{"id": "c"}`)
	writeFile(t, filepath.Join(root, "notes.txt"), `ignored`)

	records, err := ReadAll(root, []string{"**/*.json"}, []string{"drafts/**"})
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range records {
		ids = append(ids, r.Document.ID)
	}
	want := []string{"a1", "a2", "b"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	if len(records[2].Embedding) != 2 || records[0].Embedding != nil {
		t.Errorf("embeddings not parsed as expected: %+v", records)
	}
}

func TestReadAll_DuplicateID(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.json"), `{"id": "x"}`)
	writeFile(t, filepath.Join(root, "b.json"), `{"id": "x"}`)

	if _, err := ReadAll(root, nil, nil); !errors.Is(err, domain.ErrIntegrity) {
		t.Errorf("expected integrity error, got %v", err)
	}
}

func TestReadRecords_MissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	writeFile(t, path, `{"title": "no id"}`)
	if _, err := ReadRecords(path); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
