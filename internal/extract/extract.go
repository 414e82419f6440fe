// Package extract turns stored files into plain text plus a [0,1] extraction confidence.
//
// Extract never fails on content problems. Decode and recognition failures come back as a
// degraded Result with confidence 0 and a descriptive text, so the caller can still mark the
// document completed. Only a file that cannot be opened at all is reported as an error
// (ErrUnreadable), which the pipeline treats as stage-fatal.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"dochub/internal/blob"
)

// PDFNotImplementedText is returned for PDFs when text-layer extraction is disabled.
const PDFNotImplementedText = "PDF text extraction not implemented yet"

// ErrUnreadable wraps any failure to open the stored file.
var ErrUnreadable = errors.New("stored file unreadable")

// Outcome tells apart the ways extraction can succeed.
type Outcome string

const (
	OutcomeExact       Outcome = "exact"       // text read verbatim
	OutcomeRecognized  Outcome = "recognized"  // OCR produced confident tokens
	OutcomeEmpty       Outcome = "empty"       // OCR ran but recognized nothing
	OutcomeUnsupported Outcome = "unsupported" // placeholder text, e.g. PDF
	OutcomeDegraded    Outcome = "degraded"    // decode or recognizer failure; Cause is set
)

// FileRef is what the pipeline hands to the engine.
type FileRef struct {
	Blob     blob.Ref
	MIMEType string
	Filename string
}

// Result of one extraction attempt. Confidence is always within [0,1].
type Result struct {
	Text       string
	Confidence float64
	Outcome    Outcome
	Cause      error
}

// Opener is the subset of blob.Store the engine needs.
type Opener interface {
	Open(ctx context.Context, ref blob.Ref) (io.ReadCloser, error)
}

// Engine dispatches on content type.
type Engine struct {
	files      Opener
	recognizer Recognizer
	pdfText    bool
	log        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecognizer sets the OCR backend used for raster images.
func WithRecognizer(r Recognizer) Option {
	return func(e *Engine) { e.recognizer = r }
}

// WithPDFText enables reading the PDF text layer instead of returning the placeholder.
func WithPDFText(enabled bool) Option {
	return func(e *Engine) { e.pdfText = enabled }
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New builds an engine reading files through files.
func New(files Opener, opts ...Option) *Engine {
	e := &Engine{files: files, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "extract")
	return e
}

// Close releases the recognizer, if any.
func (e *Engine) Close() error {
	if e.recognizer == nil {
		return nil
	}
	return e.recognizer.Close()
}

// Extract reads ref and produces text and confidence.
func (e *Engine) Extract(ctx context.Context, ref FileRef) (Result, error) {
	rc, err := e.files.Open(ctx, ref.Blob)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUnreadable, ref.Blob, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return e.degraded(ref, fmt.Errorf("read: %w", err)), nil
	}

	switch kindOf(ref.MIMEType, ref.Filename) {
	case kindImage:
		return e.extractImage(ctx, ref, content), nil
	case kindPDF:
		return e.extractPDF(ref, content), nil
	default:
		if !utf8.Valid(content) {
			return e.degraded(ref, errors.New("content is not valid UTF-8 text")), nil
		}
		return Result{Text: string(content), Confidence: 1.0, Outcome: OutcomeExact}, nil
	}
}

func (e *Engine) extractImage(ctx context.Context, ref FileRef, content []byte) Result {
	if e.recognizer == nil {
		return e.degraded(ref, errors.New("no OCR recognizer configured"))
	}
	prepared, err := Preprocess(content)
	if err != nil {
		return e.degraded(ref, err)
	}
	tokens, err := e.recognizer.Recognize(ctx, prepared)
	if err != nil {
		return e.degraded(ref, fmt.Errorf("ocr: %w", err))
	}
	text, conf := aggregate(tokens)
	if text == "" {
		return Result{Outcome: OutcomeEmpty}
	}
	return Result{Text: text, Confidence: conf, Outcome: OutcomeRecognized}
}

func (e *Engine) extractPDF(ref FileRef, content []byte) Result {
	if !e.pdfText {
		return Result{Text: PDFNotImplementedText, Outcome: OutcomeUnsupported}
	}
	text, err := pdfText(content)
	if err != nil {
		return e.degraded(ref, fmt.Errorf("pdf: %w", err))
	}
	if strings.TrimSpace(text) == "" {
		return Result{Text: PDFNotImplementedText, Outcome: OutcomeUnsupported}
	}
	return Result{Text: text, Confidence: 1.0, Outcome: OutcomeExact}
}

func (e *Engine) degraded(ref FileRef, cause error) Result {
	e.log.Warn("extraction degraded", "blob", ref.Blob.String(), "filename", ref.Filename, "err", cause)
	return Result{
		Text:    "Error extracting text: " + cause.Error(),
		Outcome: OutcomeDegraded,
		Cause:   cause,
	}
}

// aggregate joins confident tokens and averages their confidences on a 0-1 scale.
func aggregate(tokens []Token) (string, float64) {
	parts := make([]string, 0, len(tokens))
	var sum float64
	for _, tok := range tokens {
		if tok.Confidence <= 0 {
			continue
		}
		word := strings.TrimSpace(tok.Text)
		if word == "" {
			continue
		}
		parts = append(parts, word)
		sum += tok.Confidence
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.Join(parts, " "), clamp(sum / float64(len(parts)) / 100.0)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

type kind int

const (
	kindText kind = iota
	kindImage
	kindPDF
)

func kindOf(mimeType, filename string) kind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp":
		return kindImage
	case ".pdf":
		return kindPDF
	}
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch mt {
	case "image/jpeg", "image/png", "image/tiff", "image/bmp", "image/x-ms-bmp":
		return kindImage
	case "application/pdf":
		return kindPDF
	}
	return kindText
}
