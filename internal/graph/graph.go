// Package graph is the relationship graph of documents and users.
//
// Writes are best-effort from the pipeline's point of view: a backend that cannot be
// reached reports ErrGraphUnavailable and the caller decides whether that matters.
// Node upserts merge by (kind, id) for every kind. Edges are directed, typed and
// timestamped, and require both endpoints to exist.
package graph

import (
	"context"
	"crypto/subtle"
	"errors"
	"regexp"
	"time"
)

type NodeKind string

const (
	KindDocument NodeKind = "Document"
	KindUser     NodeKind = "User"
)

const (
	EdgeUploaded  = "UPLOADED"
	EdgeRelatedTo = "RELATED_TO"
)

var (
	ErrNodeNotFound     = errors.New("graph node not found")
	ErrGraphUnavailable = errors.New("graph store unavailable")
	ErrGraphLocked      = errors.New("graph directory is held by another process")
	ErrForbidden        = errors.New("raw graph query not permitted")
	ErrInvalidKind      = errors.New("invalid node kind")
	ErrInvalidEdgeType  = errors.New("invalid edge type")
)

// Node is a document or user vertex keyed by the record store's id.
type Node struct {
	Kind      NodeKind       `json:"kind"`
	ID        string         `json:"id"`
	Labels    []string       `json:"labels,omitempty"`
	Props     map[string]any `json:"properties,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Edge is a directed typed relationship. Repeated CreateEdge calls create distinct edges.
type Edge struct {
	ID        string    `json:"id"`
	FromKind  NodeKind  `json:"from_kind"`
	FromID    string    `json:"from_id"`
	ToKind    NodeKind  `json:"to_kind"`
	ToID      string    `json:"to_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the whole graph, for visualization.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Related is a document adjacent to another one and the edge type joining them.
type Related struct {
	Node         Node   `json:"document"`
	Relationship string `json:"relationship"`
}

// Row is one result of a raw query.
type Row map[string]any

// Capability grants raw query access. The zero value grants nothing.
type Capability struct {
	granted bool
}

// Authorize compares token to adminToken in constant time. An empty adminToken
// disables raw queries entirely.
func Authorize(token, adminToken string) (Capability, error) {
	if adminToken == "" || token == "" {
		return Capability{}, ErrForbidden
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
		return Capability{}, ErrForbidden
	}
	return Capability{granted: true}, nil
}

// Store is implemented by the Neo4j and Badger backends.
type Store interface {
	UpsertNode(ctx context.Context, n Node) error
	CreateEdge(ctx context.Context, e Edge) (Edge, error)
	AllRelationships(ctx context.Context) (Snapshot, error)
	RelatedDocuments(ctx context.Context, documentID string) ([]Related, error)
	// Query runs raw verbatim. Only trusted internal callers hold a Capability.
	Query(ctx context.Context, c Capability, raw string) ([]Row, error)
	Close() error
}

var identifier = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,63}$`)

func validKind(k NodeKind) error {
	switch k {
	case KindDocument, KindUser:
		return nil
	}
	return ErrInvalidKind
}

func validEdge(e Edge) error {
	if err := validKind(e.FromKind); err != nil {
		return err
	}
	if err := validKind(e.ToKind); err != nil {
		return err
	}
	if !identifier.MatchString(e.Type) {
		return ErrInvalidEdgeType
	}
	return nil
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrGraphUnavailable)
}

// Title returns the display label used in snapshots: name for users, title for documents.
func (n Node) Title() string {
	for _, k := range []string{"name", "title"} {
		if v, ok := n.Props[k].(string); ok && v != "" {
			return v
		}
	}
	return "Unknown"
}
