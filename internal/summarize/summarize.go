// Package summarize produces document summaries with a confidence score.
//
// Abstractive summaries come from an llm.Summarizer. The engine never returns an
// error: an absent or failing model yields a fixed message with confidence 0 and a
// Status telling the caller which case it hit.
package summarize

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"dochub/internal/cache"
	"dochub/internal/chunker"
	"dochub/internal/llm"
)

const (
	// UnavailableText is returned when no summarization model is configured.
	UnavailableText = "AI summarization service not available"

	// AbstractiveConfidence is the fixed score attached to model output.
	AbstractiveConfidence = 0.85

	DefaultInputCap  = 1000
	DefaultMaxLength = 150
	defaultCacheTTL  = 24 * time.Hour
)

// Type of summary stored per document.
type Type string

const (
	Extractive  Type = "extractive"
	Abstractive Type = "abstractive"
)

// ParseType accepts an empty string as Abstractive.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case "", Abstractive:
		return Abstractive, true
	case Extractive:
		return Extractive, true
	}
	return "", false
}

// Status distinguishes the outcomes of one Summarize call.
type Status string

const (
	StatusGenerated   Status = "generated"
	StatusCached      Status = "cached"
	StatusUnavailable Status = "unavailable"
	StatusFailed      Status = "failed"
)

// Result of one summarization. Only Generated and Cached results are worth persisting.
type Result struct {
	Text       string
	Confidence float64
	Status     Status
}

// Usable reports whether the result carries a real summary.
func (r Result) Usable() bool {
	return r.Status == StatusGenerated || r.Status == StatusCached
}

// Engine wraps a summarizer with input truncation and result caching.
type Engine struct {
	summarizer llm.Summarizer
	cache      cache.SummaryCache
	ttl        time.Duration
	inputCap   int
	model      string
	log        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache serves repeated inputs from c.
func WithCache(c cache.SummaryCache, ttl time.Duration) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithInputCap sets the number of runes handed to the model.
func WithInputCap(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.inputCap = n
		}
	}
}

// WithModelName records which model produced cached entries.
func WithModelName(name string) Option {
	return func(e *Engine) { e.model = name }
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New builds an engine. A nil summarizer makes every abstractive call unavailable.
func New(s llm.Summarizer, opts ...Option) *Engine {
	e := &Engine{
		summarizer: s,
		cache:      cache.NewNoOpCache(),
		ttl:        defaultCacheTTL,
		inputCap:   DefaultInputCap,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "summarize")
	return e
}

// Available reports whether a model is configured.
func (e *Engine) Available() bool {
	return e.summarizer != nil
}

// Summarize produces an abstractive summary of text in at most maxLength words.
func (e *Engine) Summarize(ctx context.Context, text string, maxLength int) Result {
	if e.summarizer == nil {
		return Result{Text: UnavailableText, Status: StatusUnavailable}
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	input := Truncate(text, e.inputCap)
	key := cache.Key(input, maxLength)

	if hit, err := e.cache.Get(ctx, key); err != nil {
		e.log.Warn("summary cache read failed", "err", err)
	} else if hit != nil {
		return Result{Text: hit.Text, Confidence: hit.Confidence, Status: StatusCached}
	}

	out, err := e.summarizer.Summarize(ctx, input, maxLength)
	if err != nil {
		e.log.Error("summarization failed", "err", err)
		return Result{Text: "Error generating summary: " + err.Error(), Status: StatusFailed}
	}

	res := Result{Text: out, Confidence: AbstractiveConfidence, Status: StatusGenerated}
	entry := &cache.Entry{Text: res.Text, Confidence: res.Confidence, Model: e.model}
	if err := e.cache.Set(ctx, key, entry, e.ttl); err != nil {
		e.log.Warn("summary cache write failed", "err", err)
	}
	return res
}

// Extract builds an extractive summary from the leading sentences of text.
func (e *Engine) Extract(text string, maxLength int) Result {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	lead := chunker.Lead(text, maxLength)
	if lead == "" {
		return Result{Status: StatusFailed}
	}
	return Result{Text: lead, Confidence: 1.0, Status: StatusGenerated}
}

// Truncate keeps the first limit runes of text and appends "..." when anything was cut.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	n := 0
	for i := range text {
		if n == limit {
			return text[:i] + "..."
		}
		n++
	}
	return text
}
