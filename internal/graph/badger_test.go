package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/internal/logger"
)

func newMemoryGraph(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger("", true, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerUpsertNodeMerges(t *testing.T) {
	s := newMemoryGraph(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindDocument, ID: "d1", Props: map[string]any{"title": "Report", "type": "safety"}}))
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindDocument, ID: "d1", Props: map[string]any{"department": "Operations"}}))

	snap, err := s.AllRelationships(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1, "repeated upserts must not duplicate the node")

	n := snap.Nodes[0]
	assert.Equal(t, KindDocument, n.Kind)
	assert.Equal(t, []string{"Document"}, n.Labels)
	assert.Equal(t, "Report", n.Props["title"])
	assert.Equal(t, "Operations", n.Props["department"])
	assert.False(t, n.CreatedAt.IsZero())
	assert.False(t, n.UpdatedAt.Before(n.CreatedAt))
}

func TestBadgerUpsertNodeRejectsUnknownKind(t *testing.T) {
	s := newMemoryGraph(t)
	assert.ErrorIs(t, s.UpsertNode(context.Background(), Node{Kind: "Team", ID: "x"}), ErrInvalidKind)
}

func TestBadgerCreateEdgeRequiresEndpoints(t *testing.T) {
	s := newMemoryGraph(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindUser, ID: "u1", Props: map[string]any{"name": "Asha"}}))

	_, err := s.CreateEdge(ctx, Edge{FromKind: KindUser, FromID: "u1", ToKind: KindDocument, ToID: "never-uploaded", Type: EdgeUploaded})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	snap, err := s.AllRelationships(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Edges, "no edge may be written when an endpoint is missing")
}

func TestBadgerCreateEdgeIsNotIdempotent(t *testing.T) {
	s := newMemoryGraph(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindUser, ID: "u1"}))
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindDocument, ID: "d1"}))

	e := Edge{FromKind: KindUser, FromID: "u1", ToKind: KindDocument, ToID: "d1", Type: EdgeUploaded}
	first, err := s.CreateEdge(ctx, e)
	require.NoError(t, err)
	second, err := s.CreateEdge(ctx, e)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.CreatedAt.IsZero())

	snap, err := s.AllRelationships(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Edges, 2)
}

func TestBadgerRelatedDocuments(t *testing.T) {
	s := newMemoryGraph(t)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindDocument, ID: id, Props: map[string]any{"title": id}}))
	}
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindUser, ID: "u1"}))

	_, err := s.CreateEdge(ctx, Edge{FromKind: KindDocument, FromID: "d1", ToKind: KindDocument, ToID: "d2", Type: EdgeRelatedTo})
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, Edge{FromKind: KindDocument, FromID: "d3", ToKind: KindDocument, ToID: "d1", Type: "SUPERSEDES"})
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, Edge{FromKind: KindUser, FromID: "u1", ToKind: KindDocument, ToID: "d1", Type: EdgeUploaded})
	require.NoError(t, err)

	related, err := s.RelatedDocuments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, related, 2, "users are not documents")

	got := map[string]string{}
	for _, r := range related {
		got[r.Node.ID] = r.Relationship
	}
	assert.Equal(t, map[string]string{"d2": EdgeRelatedTo, "d3": "SUPERSEDES"}, got)

	none, err := s.RelatedDocuments(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBadgerQueryNeedsCapability(t *testing.T) {
	s := newMemoryGraph(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindUser, ID: "u1", Props: map[string]any{"name": "Asha"}}))
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindDocument, ID: "d1"}))

	_, err := s.Query(ctx, Capability{}, "node:")
	assert.ErrorIs(t, err, ErrForbidden)

	c, err := Authorize("tok", "tok")
	require.NoError(t, err)
	rows, err := s.Query(ctx, c, "node:User:")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "node:User:u1", rows[0]["key"])
	value, ok := rows[0]["value"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", value["id"])
}

func TestBadgerClosedIsUnavailable(t *testing.T) {
	s, err := OpenBadger("", true, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.UpsertNode(context.Background(), Node{Kind: KindUser, ID: "u1"})
	assert.True(t, IsUnavailable(err), "got %v", err)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(dir, false, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, s.UpsertNode(ctx, Node{Kind: KindDocument, ID: "d1"}))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir, false, logger.Discard())
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.AllRelationships(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)
}

func TestOpenBadgerTwiceIsLocked(t *testing.T) {
	dir := t.TempDir()
	first, err := OpenBadger(dir, false, logger.Discard())
	require.NoError(t, err)
	defer first.Close()

	_, err = OpenBadger(dir, false, logger.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGraphLocked)
	assert.True(t, IsUnavailable(err))
}
