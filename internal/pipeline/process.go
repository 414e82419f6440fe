package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dochub/internal/classify"
	"dochub/internal/extract"
	"dochub/internal/graph"
	"dochub/internal/language"
	"dochub/internal/store"
)

// ProcessingResult is what processDocument reports to its caller.
type ProcessingResult struct {
	DocumentID uuid.UUID         `json:"document_id"`
	State      store.State       `json:"state"`
	Confidence float64           `json:"confidence"`
	Language   string            `json:"language"`
	Category   classify.Category `json:"category"`
	Priority   classify.Priority `json:"priority"`
	Extraction extract.Outcome   `json:"extraction"`
	Graph      GraphOutcome      `json:"graph"`
}

// ProcessDocument claims a pending document, extracts and enriches it, and records it
// in the graph. Stage-fatal extraction failures move the document to failed and come
// back as *StageError.
func (o *Orchestrator) ProcessDocument(ctx context.Context, id uuid.UUID) (ProcessingResult, error) {
	return o.process(ctx, id, true)
}

// Reprocess is the explicit retry: the document goes back to pending as a new attempt
// and its summaries are dropped. A document whose claim is older than twice the
// extraction deadline has no live run behind it and is reclaimed too. The uploader
// edge is only written again if no earlier attempt completed.
func (o *Orchestrator) Reprocess(ctx context.Context, id uuid.UUID) (ProcessingResult, error) {
	prev, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return ProcessingResult{}, err
	}
	if _, err := o.store.RequeueDocument(ctx, id, 2*o.extractTimeout); errors.Is(err, store.ErrNotRequeueable) {
		return ProcessingResult{}, &PreconditionError{Op: "reprocess", DocumentID: id, Reason: err.Error(), Err: ErrNotRetryable}
	} else if err != nil {
		return ProcessingResult{}, err
	}
	return o.process(ctx, id, prev.State != store.StateCompleted)
}

func (o *Orchestrator) process(ctx context.Context, id uuid.UUID, linkUploader bool) (ProcessingResult, error) {
	log := o.logger.With("document_id", id)

	doc, err := o.store.ClaimDocument(ctx, id)
	if errors.Is(err, store.ErrAlreadyClaimed) {
		return ProcessingResult{}, &PreconditionError{Op: "process", DocumentID: id, Reason: err.Error(), Err: ErrNotPending}
	}
	if err != nil {
		return ProcessingResult{}, err
	}

	ref := extract.FileRef{Blob: doc.Blob, MIMEType: doc.MIMEType, Filename: doc.OriginalFilename}
	var res extract.Result
	err = o.pool.Run(ctx, o.extractTimeout, func(ctx context.Context) error {
		r, err := o.extractor.Extract(ctx, ref)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		o.fail(ctx, id, err)
		log.Error("extraction failed", "err", err)
		return ProcessingResult{DocumentID: id, State: store.StateFailed}, &StageError{Stage: "extract", DocumentID: id, Err: err}
	}

	lang, category, priority := language.English, classify.CategoryGeneral, classify.PriorityLow
	if usable(res.Outcome) {
		lang = language.Detect(res.Text)
		category, priority = o.classifier.Classify(res.Text)
	}

	doc, err = o.store.CompleteExtraction(ctx, id, store.Extraction{
		Text:       res.Text,
		Confidence: res.Confidence,
		Language:   lang,
		Category:   string(category),
		Priority:   string(priority),
		Attempt:    doc.Attempt,
	})
	if err != nil {
		o.fail(ctx, id, fmt.Errorf("persist extraction: %w", err))
		return ProcessingResult{DocumentID: id, State: store.StateFailed}, &StageError{Stage: "persist", DocumentID: id, Err: err}
	}

	outcome := o.recordDocument(ctx, doc, linkUploader)
	log.Info("document processed",
		"confidence", res.Confidence,
		"extraction", res.Outcome,
		"language", lang,
		"category", category,
		"graph", outcome)

	return ProcessingResult{
		DocumentID: id,
		State:      doc.State,
		Confidence: res.Confidence,
		Language:   lang,
		Category:   category,
		Priority:   priority,
		Extraction: res.Outcome,
		Graph:      outcome,
	}, nil
}

func usable(o extract.Outcome) bool {
	return o == extract.OutcomeExact || o == extract.OutcomeRecognized
}

// fail marks the document failed even when ctx is already cancelled.
func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, cause error) {
	if err := o.store.FailDocument(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		o.logger.Error("failed to mark document failed", "document_id", id, "err", err)
	}
}

// recordDocument upserts the document node and, when linkUploader is set, its uploader
// with an UPLOADED edge. Failures are logged and reported, never returned.
func (o *Orchestrator) recordDocument(ctx context.Context, doc store.Document, linkUploader bool) GraphOutcome {
	if o.graph == nil {
		return GraphSkipped
	}
	docType := doc.CategoryHint
	if docType == "" {
		docType = doc.Category
	}
	err := o.graph.UpsertNode(ctx, graph.Node{
		Kind: graph.KindDocument,
		ID:   doc.ID.String(),
		Props: map[string]any{
			"title":      doc.Title,
			"type":       docType,
			"category":   doc.Category,
			"priority":   doc.Priority,
			"language":   doc.Language,
			"department": doc.Department,
		},
	})
	if err != nil {
		o.logger.Warn("graph document write failed", "document_id", doc.ID, "err", err)
		return graphOutcome(err)
	}
	if !doc.OwnerID.Valid || !linkUploader {
		return GraphWritten
	}

	if err := o.upsertUserNode(ctx, doc.OwnerID.UUID); err != nil {
		o.logger.Warn("graph user write failed", "document_id", doc.ID, "user_id", doc.OwnerID.UUID, "err", err)
		return graphOutcome(err)
	}
	_, err = o.graph.CreateEdge(ctx, graph.Edge{
		FromKind: graph.KindUser,
		FromID:   doc.OwnerID.UUID.String(),
		ToKind:   graph.KindDocument,
		ToID:     doc.ID.String(),
		Type:     graph.EdgeUploaded,
	})
	if err != nil {
		o.logger.Warn("graph upload edge failed", "document_id", doc.ID, "err", err)
	}
	return graphOutcome(err)
}

func (o *Orchestrator) upsertUserNode(ctx context.Context, userID uuid.UUID) error {
	props := map[string]any{}
	u, err := o.store.GetUser(ctx, userID)
	switch {
	case err == nil:
		props["name"] = u.Name
		props["role"] = u.Role
		props["department"] = u.Department
	case !errors.Is(err, store.ErrUserNotFound):
		o.logger.Warn("user lookup failed", "user_id", userID, "err", err)
	}
	return o.graph.UpsertNode(ctx, graph.Node{Kind: graph.KindUser, ID: userID.String(), Props: props})
}
