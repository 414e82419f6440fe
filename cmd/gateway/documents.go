package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"dochub/internal/app"
	"dochub/internal/httputil"
	"dochub/internal/store"
	"dochub/internal/summarize"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type uploadForm struct {
	Title        string `validate:"max=255"`
	DocumentType string `validate:"max=64"`
	Department   string `validate:"max=128"`
}

type searchRequest struct {
	Query string `json:"query" validate:"required,min=1,max=200"`
	Limit int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

type summarizeRequest struct {
	SummaryType string `json:"summary_type" validate:"omitempty,oneof=abstractive extractive"`
	Async       bool   `json:"async"`
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusRequestEntityTooLarge)
			return
		}
		// Multipart framing adds a little over the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+1<<20)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), err, http.StatusRequestEntityTooLarge)
				return
			}
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusRequestEntityTooLarge)
			return
		}

		form := uploadForm{
			Title:        strings.TrimSpace(r.FormValue("title")),
			DocumentType: strings.TrimSpace(r.FormValue("document_type")),
			Department:   strings.TrimSpace(r.FormValue("department")),
		}
		if err := httputil.Validator.Struct(&form); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		owner := uuid.NullUUID{}
		if raw := r.Header.Get("X-User-ID"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httputil.Fail(deps.Log, w, "invalid X-User-ID", err, http.StatusBadRequest)
				return
			}
			owner = uuid.NullUUID{UUID: id, Valid: true}
			if form.Department == "" {
				form.Department = ownerDepartment(deps, r, id)
			}
		}
		if form.Title == "" {
			form.Title = header.Filename
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		ref, size, err := deps.Blobs.Save(ctx, uuid.NewString()+ext, file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to store file", err, http.StatusInternalServerError)
			return
		}

		doc, err := deps.Store.CreateDocument(ctx, store.NewDocument{
			OriginalFilename: header.Filename,
			Blob:             ref,
			Size:             size,
			MIMEType:         contentType(header.Header.Get("Content-Type"), ext),
			Title:            form.Title,
			CategoryHint:     form.DocumentType,
			Department:       form.Department,
			OwnerID:          owner,
		})
		if err != nil {
			if delErr := deps.Blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
				deps.Log.Warn("failed to remove orphaned upload", "blob", ref.String(), "err", delErr)
			}
			httputil.Fail(deps.Log, w, "failed to persist document", err, http.StatusInternalServerError)
			return
		}
		log := deps.Log.With("document_id", doc.ID)

		if err := deps.Dispatcher.DispatchProcess(ctx, doc.ID); err != nil {
			// The record stays pending and can be processed later from the CLI.
			log.Error("failed to schedule processing", "err", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":            "document stored but processing could not be scheduled; please retry",
				"document_id":      doc.ID.String(),
				"processing_state": doc.State,
			})
			return
		}

		log.Info("document uploaded", "filename", header.Filename, "size", size)
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"document_id":      doc.ID.String(),
			"filename":         doc.OriginalFilename,
			"processing_state": doc.State,
		})
	}
}

// ownerDepartment falls back to the uploader's department; unknown users have none.
func ownerDepartment(deps app.Deps, r *http.Request, id uuid.UUID) string {
	u, err := deps.Store.GetUser(r.Context(), id)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			deps.Log.Warn("user lookup failed", "user_id", id, "err", err)
		}
		return ""
	}
	return u.Department
}

func contentType(declared, ext string) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func listHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset", 0)
		if err != nil || offset < 0 {
			httputil.Fail(deps.Log, w, "invalid offset", err, http.StatusBadRequest)
			return
		}
		limit, err := queryInt(r, "limit", defaultPageSize)
		if err != nil || limit < 1 || limit > maxPageSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("limit must be between 1 and %d", maxPageSize), err, http.StatusBadRequest)
			return
		}
		docs, err := deps.Store.ListDocuments(r.Context(), offset, limit)
		if err != nil {
			fail(deps, w, "failed to list documents", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"documents": toDocumentResponses(docs),
			"offset":    offset,
			"limit":     limit,
		})
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func documentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := documentID(deps, w, r)
		if !ok {
			return
		}
		doc, err := deps.Store.GetDocument(r.Context(), id)
		if err != nil {
			fail(deps, w, "failed to load document", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toDocumentResponse(doc, true))
	}
}

func searchHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if req.Limit == 0 {
			req.Limit = defaultPageSize
		}
		docs, err := deps.Store.SearchDocuments(r.Context(), req.Query, req.Limit)
		if err != nil {
			fail(deps, w, "search failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"query":     req.Query,
			"documents": toDocumentResponses(docs),
		})
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountByState(r.Context())
		if err != nil {
			fail(deps, w, "failed to count documents", err)
			return
		}
		total := 0
		byState := make(map[string]int, len(counts))
		for st, n := range counts {
			byState[string(st)] = n
			total += n
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"total": total, "by_state": byState})
	}
}

func summarizeHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := documentID(deps, w, r)
		if !ok {
			return
		}
		var req summarizeRequest
		if r.ContentLength != 0 {
			if err := httputil.DecodeJSON(r, &req); err != nil {
				httputil.ValidationError(deps.Log, w, err)
				return
			}
		}
		t, _ := summarize.ParseType(req.SummaryType)

		if req.Async {
			if err := deps.Dispatcher.DispatchSummarize(r.Context(), id, t); err != nil {
				httputil.Fail(deps.Log, w, "failed to schedule summarization", err, http.StatusServiceUnavailable)
				return
			}
			httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"document_id": id.String(), "summary_type": t})
			return
		}

		out, err := deps.Pipeline.SummarizeDocument(r.Context(), id, t)
		if err != nil {
			fail(deps, w, "summarization failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toSummaryResponse(out.Summary, string(out.Status), out.Stored))
	}
}

func summaryHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := documentID(deps, w, r)
		if !ok {
			return
		}
		t, valid := summarize.ParseType(r.URL.Query().Get("type"))
		if !valid {
			httputil.Fail(deps.Log, w, "invalid summary type", nil, http.StatusBadRequest)
			return
		}
		sum, err := deps.Store.GetSummary(r.Context(), id, string(t))
		if err != nil {
			fail(deps, w, "failed to load summary", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toSummaryResponse(sum, "", true))
	}
}
