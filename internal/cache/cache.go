package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// SummaryCache stores generated summaries keyed by their input
type SummaryCache interface {
	// Get retrieves a cached summary by key
	// Returns nil if not found
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores a summary with TTL
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// Entry represents a cached summarizer response
type Entry struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// Key derives a stable key from the (already truncated) summarizer input and length limit.
func Key(text string, maxLength int) string {
	h := sha256.New()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(maxLength))
	h.Write(n[:])
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
