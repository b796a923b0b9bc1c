package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"siteqa/internal/domain"
)

type searchRequest struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

type searchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

type answerRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.K == 0 {
		req.K = s.topK
	}
	s.logger.Debug("search request", zap.String("question", req.Question), zap.Int("k", req.K))

	results, err := s.retriever.Search(r.Context(), req.Question, req.K)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Results: results})
}

// handleAnswer returns degraded answers with 200 so clients can show them;
// only rejected questions are errors.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		s.respondError(w, http.StatusNotImplemented, "answer generation not configured")
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := s.answerer.Answer(r.Context(), req.Question)
	if err != nil {
		if answer.Text == "" {
			s.respondError(w, statusFor(err), err.Error())
			return
		}
		s.logger.Warn("degraded answer", zap.Error(err))
	}
	if answer.Sources == nil {
		answer.Sources = []domain.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTransient):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
