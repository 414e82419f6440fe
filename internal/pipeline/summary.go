package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"dochub/internal/store"
	"dochub/internal/summarize"
)

// SummaryOutcome is a summary and whether it is the stored one. Degraded results
// (summarizer unavailable or failing) are returned with Stored=false.
type SummaryOutcome struct {
	Summary store.Summary    `json:"summary"`
	Status  summarize.Status `json:"status"`
	Stored  bool             `json:"stored"`
}

// SummarizeDocument returns the summary of type t for a completed document, generating
// it at most once. Concurrent callers in this process share one generation; across
// processes the record store keeps the first stored row.
func (o *Orchestrator) SummarizeDocument(ctx context.Context, id uuid.UUID, t summarize.Type) (SummaryOutcome, error) {
	if _, ok := summarize.ParseType(string(t)); !ok {
		return SummaryOutcome{}, &PreconditionError{Op: "summarize", DocumentID: id, Reason: "unknown summary type " + string(t), Err: ErrUnknownSummary}
	}
	if t == "" {
		t = summarize.Abstractive
	}

	doc, err := o.store.GetDocument(ctx, id)
	if err != nil {
		return SummaryOutcome{}, err
	}
	if err := summarizable(doc); err != nil {
		return SummaryOutcome{}, err
	}
	if out, ok, err := o.existingSummary(ctx, id, t); err != nil || ok {
		return out, err
	}

	// The shared generation outlives any one caller; each caller waits on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := o.flights.DoChan(id.String()+":"+string(t), func() (any, error) {
		if out, ok, err := o.existingSummary(flightCtx, id, t); err != nil || ok {
			return out, err
		}
		return o.generateSummary(flightCtx, doc, t)
	})
	select {
	case <-ctx.Done():
		return SummaryOutcome{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return SummaryOutcome{}, r.Err
		}
		return r.Val.(SummaryOutcome), nil
	}
}

func summarizable(doc store.Document) error {
	if doc.State != store.StateCompleted {
		return &PreconditionError{
			Op:         "summarize",
			DocumentID: doc.ID,
			Reason:     "document is " + string(doc.State),
			Err:        ErrNotCompleted,
		}
	}
	if doc.ExtractedText == nil || *doc.ExtractedText == "" {
		return &PreconditionError{Op: "summarize", DocumentID: doc.ID, Reason: "no extracted text", Err: ErrNoText}
	}
	return nil
}

func (o *Orchestrator) existingSummary(ctx context.Context, id uuid.UUID, t summarize.Type) (SummaryOutcome, bool, error) {
	sum, err := o.store.GetSummary(ctx, id, string(t))
	if errors.Is(err, store.ErrSummaryNotFound) {
		return SummaryOutcome{}, false, nil
	}
	if err != nil {
		return SummaryOutcome{}, false, err
	}
	return SummaryOutcome{Summary: sum, Status: summarize.StatusCached, Stored: true}, true, nil
}

func (o *Orchestrator) generateSummary(ctx context.Context, doc store.Document, t summarize.Type) (SummaryOutcome, error) {
	text := *doc.ExtractedText
	var res summarize.Result
	if t == summarize.Extractive {
		res = o.summarizer.Extract(text, o.summaryMaxLength)
	} else {
		err := o.pool.Run(ctx, o.summarizeTimeout, func(ctx context.Context) error {
			res = o.summarizer.Summarize(ctx, text, o.summaryMaxLength)
			return nil
		})
		if err != nil {
			o.logger.Error("summarization stage failed", "document_id", doc.ID, "err", err)
			return SummaryOutcome{}, &StageError{Stage: "summarize", DocumentID: doc.ID, Err: err}
		}
	}

	sum := store.Summary{
		DocumentID: doc.ID,
		Text:       res.Text,
		Type:       string(t),
		Language:   doc.Language,
		Confidence: res.Confidence,
	}
	if !res.Usable() {
		o.logger.Warn("summary not stored", "document_id", doc.ID, "status", res.Status)
		return SummaryOutcome{Summary: sum, Status: res.Status}, nil
	}

	stored, created, err := o.store.CreateSummaryIfAbsent(ctx, sum)
	if err != nil {
		return SummaryOutcome{}, err
	}
	status := res.Status
	if !created {
		status = summarize.StatusCached
	}
	o.logger.Info("summary stored", "document_id", doc.ID, "type", t, "created", created)
	return SummaryOutcome{Summary: stored, Status: status, Stored: true}, nil
}
