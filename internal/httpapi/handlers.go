package httpapi

import (
	"encoding/json"
	"net/http"

	"takeout-ingestion-service/internal/ingest"
	"takeout-ingestion-service/internal/models"
	"takeout-ingestion-service/internal/owner"
	"takeout-ingestion-service/internal/reporter"
	"takeout-ingestion-service/pkg/errors"
	"takeout-ingestion-service/pkg/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ingestBody is the upload payload. An absent selection applies the default
// policy; an empty array selects nothing.
type ingestBody struct {
	Content     string `json:"content"`
	FileName    string `json:"fileName" validate:"required,max=255"`
	OwnerIDHint string `json:"ownerIdHint" validate:"omitempty,max=128"`
	ExternalRef string `json:"externalRef" validate:"omitempty,max=256"`
	DisplayName string `json:"displayName" validate:"omitempty,max=256"`
	Email       string `json:"email" validate:"omitempty,email"`
	Selection   []int  `json:"selection" validate:"omitempty,dive,min=0"`
}

func (b ingestBody) document() models.RawDocument {
	return models.RawDocument{Content: b.Content, FileName: b.FileName}
}

func (b ingestBody) hints() owner.Hints {
	return owner.Hints{
		OwnerID:     b.OwnerIDHint,
		ExternalRef: b.ExternalRef,
		DisplayName: b.DisplayName,
		Email:       b.Email,
	}
}

// errorBody is the JSON shape of every failed request
type errorBody struct {
	Error      string               `json:"error"`
	Code       errors.ErrorCode     `json:"code"`
	Category   errors.ErrorCategory `json:"category"`
	Suggestion string               `json:"suggestion,omitempty"`
	RequestID  string               `json:"requestId,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	body, err := decodeJSON[ingestBody](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), &ingest.IngestRequest{
		Document:  body.document(),
		Hints:     body.hints(),
		Selection: body.Selection,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	body, err := decodeJSON[ingestBody](r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	batch, rejected, err := s.ingestor.Prepare(r.Context(), body.document())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if body.Selection != nil {
		if _, err := batch.Select(body.Selection); err != nil {
			s.writeError(w, r, err)
			return
		}
	} else {
		batch.SelectDefault()
	}

	writeJSON(w, http.StatusOK, reporter.NewPreview(batch, rejected))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ingestErr := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "unexpected error handling request")
	status := ingestErr.HTTPStatus()

	log := s.logger.WithError(err).WithFields(logger.Fields{
		"path":   r.URL.Path,
		"code":   ingestErr.Code,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Warn("Request rejected")
	}

	writeJSON(w, status, errorBody{
		Error:      ingestErr.Message,
		Code:       ingestErr.Code,
		Category:   ingestErr.Category,
		Suggestion: ingestErr.Suggestion,
		RequestID:  chimw.GetReqID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
