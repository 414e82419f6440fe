// Package pipeline drives uploaded documents through extraction, language detection,
// classification and graph enrichment, and runs on-demand summarization.
//
// Document state is pending, processing, then completed or failed, and only the record
// store writes it. Summaries and graph facts are side effects against completed
// documents and never change that state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"dochub/internal/classify"
	"dochub/internal/extract"
	"dochub/internal/graph"
	"dochub/internal/store"
	"dochub/internal/summarize"
	"dochub/internal/workpool"
)

var (
	ErrNotCompleted   = errors.New("document processing is not completed")
	ErrNoText         = errors.New("document text not available")
	ErrNotPending     = errors.New("document is not pending")
	ErrNotRetryable   = errors.New("document cannot be reprocessed in its current state")
	ErrUnknownSummary = errors.New("unknown summary type")
)

// PreconditionError rejects a request synchronously without mutating anything.
type PreconditionError struct {
	Op         string
	DocumentID uuid.UUID
	Reason     string
	Err        error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.DocumentID, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// StageError is a stage-fatal failure: the document was moved to failed (for extraction)
// or no summary was stored (for summarization).
type StageError struct {
	Stage      string
	DocumentID uuid.UUID
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed for %s: %v", e.Stage, e.DocumentID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// GraphOutcome reports what happened to a best-effort graph write.
type GraphOutcome string

const (
	GraphWritten     GraphOutcome = "written"
	GraphUnavailable GraphOutcome = "unavailable"
	GraphRejected    GraphOutcome = "rejected"
	GraphSkipped     GraphOutcome = "skipped"
)

// Extractor is satisfied by *extract.Engine.
type Extractor interface {
	Extract(ctx context.Context, ref extract.FileRef) (extract.Result, error)
}

// Classifier is satisfied by *classify.Classifier.
type Classifier interface {
	Classify(text string) (classify.Category, classify.Priority)
}

// Summarizer is satisfied by *summarize.Engine.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxLength int) summarize.Result
	Extract(text string, maxLength int) summarize.Result
}

// Orchestrator wires the engines to the record store and graph.
type Orchestrator struct {
	store      store.Store
	extractor  Extractor
	classifier Classifier
	summarizer Summarizer
	graph      graph.Store
	pool       *workpool.Pool
	ownsPool   bool

	extractTimeout   time.Duration
	summarizeTimeout time.Duration
	summaryMaxLength int

	flights singleflight.Group
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGraph enables graph enrichment. Without it graph outcomes are "skipped".
func WithGraph(g graph.Store) Option {
	return func(o *Orchestrator) { o.graph = g }
}

// WithPool runs extraction and summarization on p instead of a private pool.
func WithPool(p *workpool.Pool) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pool = p
		}
	}
}

// WithTimeouts sets the per-stage deadlines; zero keeps the default.
func WithTimeouts(extractTimeout, summarizeTimeout time.Duration) Option {
	return func(o *Orchestrator) {
		if extractTimeout > 0 {
			o.extractTimeout = extractTimeout
		}
		if summarizeTimeout > 0 {
			o.summarizeTimeout = summarizeTimeout
		}
	}
}

// WithSummaryMaxLength sets the word budget handed to the summarizer.
func WithSummaryMaxLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.summaryMaxLength = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New builds an orchestrator. When no pool is supplied a NumCPU-sized one is created
// and released by Close.
func New(st store.Store, ex Extractor, cl Classifier, su Summarizer, opts ...Option) (*Orchestrator, error) {
	if st == nil || ex == nil || cl == nil || su == nil {
		return nil, errors.New("pipeline: store, extractor, classifier and summarizer are required")
	}
	o := &Orchestrator{
		store:            st,
		extractor:        ex,
		classifier:       cl,
		summarizer:       su,
		extractTimeout:   2 * time.Minute,
		summarizeTimeout: 90 * time.Second,
		summaryMaxLength: summarize.DefaultMaxLength,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "pipeline")
	if o.pool == nil {
		p, err := workpool.New(0, workpool.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		o.pool = p
		o.ownsPool = true
	}
	return o, nil
}

// Close releases the private worker pool, if any.
func (o *Orchestrator) Close() {
	if o.ownsPool {
		o.pool.Release(5 * time.Second)
	}
}

// graphOutcome classifies a graph error for reporting.
func graphOutcome(err error) GraphOutcome {
	switch {
	case err == nil:
		return GraphWritten
	case graph.IsUnavailable(err):
		return GraphUnavailable
	default:
		return GraphRejected
	}
}
