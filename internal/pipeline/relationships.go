package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dochub/internal/graph"
	"dochub/internal/store"
)

// RelationshipOutcome reports a best-effort edge write.
type RelationshipOutcome struct {
	Applied bool         `json:"applied"`
	Graph   GraphOutcome `json:"graph"`
	Edge    *graph.Edge  `json:"edge,omitempty"`
}

// RelatedDocument is a neighbouring document and the edge type that joins them.
type RelatedDocument struct {
	Document     store.Document `json:"document"`
	Relationship string         `json:"relationship"`
}

// RecordUploadRelationship links a user to a document they uploaded. Both nodes must
// already exist in the graph.
func (o *Orchestrator) RecordUploadRelationship(ctx context.Context, userID, docID uuid.UUID) (RelationshipOutcome, error) {
	return o.link(ctx, "record upload", graph.Edge{
		FromKind: graph.KindUser,
		FromID:   userID.String(),
		ToKind:   graph.KindDocument,
		ToID:     docID.String(),
		Type:     graph.EdgeUploaded,
	}, docID)
}

// LinkDocuments creates an edge of edgeType between two documents. An empty type means
// RELATED_TO.
func (o *Orchestrator) LinkDocuments(ctx context.Context, from, to uuid.UUID, edgeType string) (RelationshipOutcome, error) {
	if edgeType == "" {
		edgeType = graph.EdgeRelatedTo
	}
	return o.link(ctx, "link documents", graph.Edge{
		FromKind: graph.KindDocument,
		FromID:   from.String(),
		ToKind:   graph.KindDocument,
		ToID:     to.String(),
		Type:     edgeType,
	}, from)
}

func (o *Orchestrator) link(ctx context.Context, op string, e graph.Edge, docID uuid.UUID) (RelationshipOutcome, error) {
	if o.graph == nil {
		return RelationshipOutcome{Graph: GraphSkipped}, nil
	}
	created, err := o.graph.CreateEdge(ctx, e)
	switch {
	case err == nil:
		return RelationshipOutcome{Applied: true, Graph: GraphWritten, Edge: &created}, nil
	case graph.IsUnavailable(err):
		o.logger.Warn("graph unavailable", "op", op, "err", err)
		return RelationshipOutcome{Graph: GraphUnavailable}, nil
	case errors.Is(err, graph.ErrNodeNotFound), errors.Is(err, graph.ErrInvalidEdgeType), errors.Is(err, graph.ErrInvalidKind):
		return RelationshipOutcome{Graph: GraphRejected}, &PreconditionError{
			Op:         op,
			DocumentID: docID,
			Reason:     fmt.Sprintf("%s %s -[%s]-> %s %s: %v", e.FromKind, e.FromID, e.Type, e.ToKind, e.ToID, err),
			Err:        err,
		}
	default:
		return RelationshipOutcome{Graph: GraphRejected}, err
	}
}

// RelatedDocuments returns the documents adjacent to docID, resolved through the record
// store. Graph failures yield an empty list.
func (o *Orchestrator) RelatedDocuments(ctx context.Context, docID uuid.UUID) ([]RelatedDocument, error) {
	if _, err := o.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	if o.graph == nil {
		return []RelatedDocument{}, nil
	}

	related, err := o.graph.RelatedDocuments(ctx, docID.String())
	if err != nil {
		o.logger.Warn("related documents lookup failed", "document_id", docID, "err", err)
		return []RelatedDocument{}, nil
	}

	ids := make([]uuid.UUID, 0, len(related))
	edgeByID := make(map[uuid.UUID]string, len(related))
	for _, r := range related {
		id, err := uuid.Parse(r.Node.ID)
		if err != nil {
			continue
		}
		if _, seen := edgeByID[id]; !seen {
			ids = append(ids, id)
		}
		edgeByID[id] = r.Relationship
	}
	if len(ids) == 0 {
		return []RelatedDocument{}, nil
	}

	docs, err := o.store.GetDocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]RelatedDocument, 0, len(docs))
	for _, d := range docs {
		out = append(out, RelatedDocument{Document: d, Relationship: edgeByID[d.ID]})
	}
	return out, nil
}

// Relationships is the full graph for visualization, empty when the graph is down.
func (o *Orchestrator) Relationships(ctx context.Context) graph.Snapshot {
	empty := graph.Snapshot{Nodes: []graph.Node{}, Edges: []graph.Edge{}}
	if o.graph == nil {
		return empty
	}
	snap, err := o.graph.AllRelationships(ctx)
	if err != nil {
		o.logger.Warn("relationship snapshot failed", "err", err)
		return empty
	}
	return snap
}

// RegisterUser stores a user record and mirrors it into the graph.
func (o *Orchestrator) RegisterUser(ctx context.Context, u store.User) (store.User, GraphOutcome, error) {
	saved, err := o.store.UpsertUser(ctx, u)
	if err != nil {
		return store.User{}, "", err
	}
	if o.graph == nil {
		return saved, GraphSkipped, nil
	}
	err = o.graph.UpsertNode(ctx, graph.Node{
		Kind:  graph.KindUser,
		ID:    saved.ID.String(),
		Props: map[string]any{"name": saved.Name, "role": saved.Role, "department": saved.Department},
	})
	if err != nil {
		o.logger.Warn("graph user write failed", "user_id", saved.ID, "err", err)
	}
	return saved, graphOutcome(err), nil
}
