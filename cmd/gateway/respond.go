package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dochub/internal/app"
	"dochub/internal/httputil"
	"dochub/internal/pipeline"
	"dochub/internal/store"
)

type documentResponse struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Title         string    `json:"title"`
	DocumentType  string    `json:"document_type,omitempty"`
	Department    string    `json:"department,omitempty"`
	OwnerID       *string   `json:"owner_id,omitempty"`
	Size          int64     `json:"size"`
	MIMEType      string    `json:"mime_type"`
	State         string    `json:"processing_state"`
	Attempt       int       `json:"attempt"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Language      string    `json:"language,omitempty"`
	Category      string    `json:"category,omitempty"`
	Priority      string    `json:"priority,omitempty"`
	ExtractedText *string   `json:"extracted_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toDocumentResponse(d store.Document, withText bool) documentResponse {
	resp := documentResponse{
		ID:            d.ID.String(),
		Filename:      d.OriginalFilename,
		Title:         d.Title,
		DocumentType:  d.CategoryHint,
		Department:    d.Department,
		Size:          d.Size,
		MIMEType:      d.MIMEType,
		State:         string(d.State),
		Attempt:       d.Attempt,
		FailureReason: d.FailureReason,
		Confidence:    d.Confidence,
		Language:      d.Language,
		Category:      d.Category,
		Priority:      d.Priority,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if d.OwnerID.Valid {
		owner := d.OwnerID.UUID.String()
		resp.OwnerID = &owner
	}
	if withText {
		resp.ExtractedText = d.ExtractedText
	}
	return resp
}

func toDocumentResponses(docs []store.Document) []documentResponse {
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d, false))
	}
	return out
}

type summaryResponse struct {
	ID         string    `json:"id,omitempty"`
	DocumentID string    `json:"document_id"`
	Summary    string    `json:"summary"`
	Type       string    `json:"summary_type"`
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status,omitempty"`
	Stored     bool      `json:"stored"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

func toSummaryResponse(s store.Summary, status string, stored bool) summaryResponse {
	return summaryResponse{
		ID:         s.ID,
		DocumentID: s.DocumentID.String(),
		Summary:    s.Text,
		Type:       s.Type,
		Language:   s.Language,
		Confidence: s.Confidence,
		Status:     status,
		Stored:     stored,
		CreatedAt:  s.CreatedAt,
	}
}

// documentID parses the {id} route parameter, writing a 400 on failure.
func documentID(deps app.Deps, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// fail maps pipeline and store errors onto HTTP statuses.
func fail(deps app.Deps, w http.ResponseWriter, message string, err error) {
	var pe *pipeline.PreconditionError
	var se *pipeline.StageError
	switch {
	case errors.As(err, &pe):
		status := http.StatusConflict
		if errors.Is(err, pipeline.ErrNoText) || errors.Is(err, pipeline.ErrUnknownSummary) {
			status = http.StatusBadRequest
		}
		httputil.Fail(deps.Log, w, pe.Reason, err, status)
	case errors.Is(err, store.ErrDocumentNotFound):
		httputil.Fail(deps.Log, w, "document not found", err, http.StatusNotFound)
	case errors.Is(err, store.ErrSummaryNotFound):
		httputil.Fail(deps.Log, w, "summary not found", err, http.StatusNotFound)
	case errors.Is(err, store.ErrUserNotFound):
		httputil.Fail(deps.Log, w, "user not found", err, http.StatusNotFound)
	case errors.As(err, &se):
		httputil.Fail(deps.Log, w, se.Error(), err, http.StatusUnprocessableEntity)
	default:
		httputil.Fail(deps.Log, w, message, err, http.StatusInternalServerError)
	}
}
