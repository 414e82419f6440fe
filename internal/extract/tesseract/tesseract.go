// Package tesseract adapts gosseract to extract.Recognizer.
//
// Tesseract handles are not safe for concurrent use, so the recognizer keeps a fixed set of
// clients and lends one to each call. Clients are created once and released by Close.
package tesseract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"dochub/internal/extract"
)

var ErrClosed = errors.New("tesseract recognizer closed")

// Recognizer lends pooled gosseract clients to Recognize calls.
type Recognizer struct {
	clients   chan *gosseract.Client
	all       []*gosseract.Client
	closeOnce sync.Once
	closeErr  error
}

var _ extract.Recognizer = (*Recognizer)(nil)

// New creates size clients configured for languages (e.g. "eng", "mal", "hin").
func New(size int, languages ...string) (*Recognizer, error) {
	if size < 1 {
		size = 1
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	r := &Recognizer{clients: make(chan *gosseract.Client, size)}
	for i := 0; i < size; i++ {
		c := gosseract.NewClient()
		if err := c.SetLanguage(languages...); err != nil {
			c.Close()
			r.Close()
			return nil, fmt.Errorf("tesseract: set language %v: %w", languages, err)
		}
		r.all = append(r.all, c)
		r.clients <- c
	}
	return r, nil
}

// Recognize returns word-level tokens with Tesseract's 0-100 confidences.
func (r *Recognizer) Recognize(ctx context.Context, png []byte) ([]extract.Token, error) {
	var c *gosseract.Client
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case client, ok := <-r.clients:
		if !ok {
			return nil, ErrClosed
		}
		c = client
	}
	defer func() { r.clients <- c }()

	if err := c.SetImageFromBytes(png); err != nil {
		return nil, err
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, err
	}
	tokens := make([]extract.Token, 0, len(boxes))
	for _, b := range boxes {
		tokens = append(tokens, extract.Token{Text: b.Word, Confidence: b.Confidence})
	}
	return tokens, nil
}

// Close waits for lent clients to come back, then releases every native handle.
// Recognize returns ErrClosed afterwards.
func (r *Recognizer) Close() error {
	r.closeOnce.Do(func() {
		for range r.all {
			<-r.clients
		}
		close(r.clients)

		var errs []error
		for _, c := range r.all {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.all = nil
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
