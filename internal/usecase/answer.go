package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const (
	SystemPrompt = "You are an expert assistant for this website. Answer concisely and precisely, " +
		"using only the provided context."

	// NoInformationAnswer is returned when no relevant document was found. The
	// generator is never asked to answer without context.
	NoInformationAnswer = "I'm sorry, but I couldn't find any relevant documents to answer your question."

	// GenerationFailedAnswer is returned when the generator could not be reached.
	GenerationFailedAnswer = "Sorry, an error occurred while generating the answer."
)

// BuildContext renders documents in relevance order, separated by a blank line.
func BuildContext(results []domain.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("Title: %s\nContent: %s\nURL: %s", r.Document.Title, r.Document.Content, r.Document.URL)
	}
	return strings.Join(parts, "\n\n")
}

// BuildUserMessage combines the question with its context.
func BuildUserMessage(question, context string) string {
	return fmt.Sprintf("Question: %s\n\nContext:\n%s", question, context)
}

// Answerer retrieves documents for a question and asks the LLM to answer
// from them.
type Answerer struct {
	retriever port.Retriever
	llm       port.LLM
	topK      int
	logger    *zap.Logger
}

func NewAnswerer(retriever port.Retriever, llm port.LLM, topK int, logger *zap.Logger) *Answerer {
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Answerer{retriever: retriever, llm: llm, topK: topK, logger: logger}
}

// Answer never fabricates: with no documents it returns NoInformationAnswer
// without calling the LLM. Provider and index failures produce a degraded
// answer alongside the error; validation errors return only the error.
func (a *Answerer) Answer(ctx context.Context, question string) (domain.Answer, error) {
	results, err := a.retriever.Search(ctx, question, a.topK)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation), errors.Is(err, context.Canceled):
			return domain.Answer{}, err
		case errors.Is(err, domain.ErrIndexUnavailable):
			a.logger.Warn("index unavailable, answering without documents", zap.Error(err))
			return domain.Answer{Text: NoInformationAnswer, Degraded: true}, err
		default:
			a.logger.Error("retrieval failed", zap.Error(err))
			return domain.Answer{Text: GenerationFailedAnswer, Degraded: true}, err
		}
	}

	if len(results) == 0 {
		return domain.Answer{Text: NoInformationAnswer}, nil
	}

	user := BuildUserMessage(strings.TrimSpace(question), BuildContext(results))
	text, err := a.llm.GenerateWithSystem(ctx, SystemPrompt, user)
	if err != nil {
		a.logger.Error("generation failed", zap.String("model", a.llm.ModelName()), zap.Error(err))
		return domain.Answer{Text: GenerationFailedAnswer, Sources: results, Degraded: true}, err
	}

	return domain.Answer{Text: text, Sources: results}, nil
}
