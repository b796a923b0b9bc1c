package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is a corpus record. The ID is shared with the vector index entry.
type Document struct {
	ID      string `json:"id" bson:"id"`
	Title   string `json:"title" bson:"title"`
	Content string `json:"content" bson:"content"`
	URL     string `json:"url" bson:"url"`
}

// UnmarshalJSON accepts numeric ids and ignores fields outside the record.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      json.RawMessage `json:"id"`
		Title   string          `json:"title"`
		Content string          `json:"content"`
		URL     string          `json:"url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := parseID(raw.ID)
	if err != nil {
		return err
	}
	*d = Document{ID: id, Title: raw.Title, Content: raw.Content, URL: raw.URL}
	return nil
}

func parseID(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("%w: document id is required", ErrValidation)
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: document id is required", ErrValidation)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: document id must be a string or number", ErrValidation)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// SearchResult pairs a document with its relevance. Higher is more relevant.
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role           `json:"role"`
	Content string         `json:"content"`
	Sources []SearchResult `json:"sources,omitempty"`
}

// Conversation is a transcript owned by the caller. The core never stores it.
type Conversation []ChatMessage

// Append returns a new transcript with the question and its answer added.
func (c Conversation) Append(question string, answer Answer) Conversation {
	out := make(Conversation, 0, len(c)+2)
	out = append(out, c...)
	out = append(out,
		ChatMessage{Role: RoleUser, Content: question},
		ChatMessage{Role: RoleAssistant, Content: answer.Text, Sources: answer.Sources},
	)
	return out
}

// Answer is the generated response together with the documents it was grounded on.
type Answer struct {
	Text     string         `json:"text"`
	Sources  []SearchResult `json:"sources"`
	Degraded bool           `json:"degraded,omitempty"`
}

// SourcesMarkdown renders the sources as a markdown list.
func (a Answer) SourcesMarkdown() string {
	var sb strings.Builder
	for _, s := range a.Sources {
		fmt.Fprintf(&sb, "- [%s](%s) (relevance: %.2f)\n", s.Document.Title, s.Document.URL, s.Score)
	}
	return sb.String()
}

type MigrationSummary struct {
	Total           int `json:"total"`
	VectorsMigrated int `json:"vectors_migrated"`
	DocsMigrated    int `json:"docs_migrated"`
	Batches         int `json:"batches"`
}

type ConsistencyReport struct {
	VectorCount     int      `json:"vector_count"`
	DocumentCount   int      `json:"document_count"`
	OrphanVectors   []string `json:"orphan_vectors,omitempty"`
	OrphanDocuments []string `json:"orphan_documents,omitempty"`
}

// Consistent reports whether every vector has a document and vice versa.
func (r ConsistencyReport) Consistent() bool {
	return len(r.OrphanVectors) == 0 && len(r.OrphanDocuments) == 0
}
