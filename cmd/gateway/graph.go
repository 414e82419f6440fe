package main

import (
	"net/http"

	"github.com/google/uuid"

	"dochub/internal/app"
	"dochub/internal/httputil"
	"dochub/internal/store"
)

type linkRequest struct {
	TargetID string `json:"target_id" validate:"required,uuid"`
	Type     string `json:"relationship" validate:"omitempty,max=64"`
}

type createUserRequest struct {
	ID         string `json:"id" validate:"omitempty,uuid"`
	Name       string `json:"name" validate:"required,max=128"`
	Role       string `json:"role" validate:"omitempty,max=64"`
	Department string `json:"department" validate:"omitempty,max=128"`
}

type relatedResponse struct {
	documentResponse
	Relationship string `json:"relationship"`
}

func relatedHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := documentID(deps, w, r)
		if !ok {
			return
		}
		related, err := deps.Pipeline.RelatedDocuments(r.Context(), id)
		if err != nil {
			fail(deps, w, "failed to load related documents", err)
			return
		}
		out := make([]relatedResponse, 0, len(related))
		for _, rel := range related {
			out = append(out, relatedResponse{documentResponse: toDocumentResponse(rel.Document, false), Relationship: rel.Relationship})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"document_id": id.String(), "related": out})
	}
}

func linkHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := documentID(deps, w, r)
		if !ok {
			return
		}
		var req linkRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		out, err := deps.Pipeline.LinkDocuments(r.Context(), id, uuid.MustParse(req.TargetID), req.Type)
		if err != nil {
			fail(deps, w, "failed to link documents", err)
			return
		}
		status := http.StatusCreated
		if !out.Applied {
			status = http.StatusAccepted
		}
		httputil.WriteJSON(w, status, out)
	}
}

func relationshipsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, deps.Pipeline.Relationships(r.Context()))
	}
}

func createUserHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		u := store.User{Name: req.Name, Role: req.Role, Department: req.Department}
		if req.ID != "" {
			u.ID = uuid.MustParse(req.ID)
		}
		saved, outcome, err := deps.Pipeline.RegisterUser(r.Context(), u)
		if err != nil {
			fail(deps, w, "failed to save user", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{
			"id":         saved.ID.String(),
			"name":       saved.Name,
			"role":       saved.Role,
			"department": saved.Department,
			"graph":      outcome,
		})
	}
}
