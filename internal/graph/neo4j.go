package graph

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/oklog/ulid/v2"

	"dochub/internal/retry"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// Neo4jStore talks Cypher to a Neo4j server. Kinds, labels and edge types are validated
// before they are interpolated; everything else is passed as parameters.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

var _ Store = (*Neo4jStore)(nil)

// OpenNeo4j creates the driver and checks connectivity with a few retries. A failed
// check is logged and the store is still returned: operations report ErrGraphUnavailable
// until the server is reachable.
func OpenNeo4j(ctx context.Context, url, user, password string, logger *slog.Logger) (*Neo4jStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "graph-neo4j")

	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	err = retry.Do(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		return driver.VerifyConnectivity(ctx)
	})
	if err != nil {
		logger.Warn("neo4j not reachable; graph writes will be skipped until it is", "url", url, "err", err)
	}
	return &Neo4jStore{driver: driver, logger: logger}, nil
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	res, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		if neo4j.IsConnectivityError(err) {
			return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
		}
		return nil, err
	}
	return res, nil
}

func (s *Neo4jStore) UpsertNode(ctx context.Context, n Node) error {
	if err := validKind(n.Kind); err != nil {
		return err
	}
	labels := []string{string(n.Kind)}
	for _, l := range n.Labels {
		if l != string(n.Kind) && labelPattern.MatchString(l) {
			labels = append(labels, l)
		}
	}
	props := mergeProps(nil, n.Props)
	delete(props, "id")

	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		ON CREATE SET n.created_at = datetime()
		SET n += $props, n.updated_at = datetime()`, string(n.Kind))
	if len(labels) > 1 {
		query += "\n\t\tSET n:" + strings.Join(labels[1:], ":")
	}
	_, err := s.run(ctx, query, map[string]any{"id": n.ID, "props": props})
	return err
}

func (s *Neo4jStore) CreateEdge(ctx context.Context, e Edge) (Edge, error) {
	if err := validEdge(e); err != nil {
		return Edge{}, err
	}
	e.ID = ulid.Make().String()
	e.CreatedAt = time.Now().UTC()

	query := fmt.Sprintf(`
		MATCH (a:%s {id: $from_id})
		MATCH (b:%s {id: $to_id})
		CREATE (a)-[r:%s {id: $edge_id, created_at: $created_at}]->(b)
		RETURN count(r) AS created`, string(e.FromKind), string(e.ToKind), e.Type)
	res, err := s.run(ctx, query, map[string]any{
		"from_id":    e.FromID,
		"to_id":      e.ToID,
		"edge_id":    e.ID,
		"created_at": e.CreatedAt,
	})
	if err != nil {
		return Edge{}, err
	}
	if len(res.Records) == 0 {
		return Edge{}, ErrNodeNotFound
	}
	if created, _ := res.Records[0].Get("created"); toInt64(created) == 0 {
		return Edge{}, ErrNodeNotFound
	}
	return e, nil
}

func (s *Neo4jStore) AllRelationships(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Nodes: []Node{}, Edges: []Edge{}}

	nodes, err := s.run(ctx, `MATCH (n) WHERE n:Document OR n:User RETURN n`, nil)
	if err != nil {
		return Snapshot{}, err
	}
	for _, rec := range nodes.Records {
		v, _ := rec.Get("n")
		if n, ok := v.(neo4j.Node); ok {
			snap.Nodes = append(snap.Nodes, fromNeo4jNode(n))
		}
	}

	edges, err := s.run(ctx, `
		MATCH (a)-[r]->(b)
		RETURN labels(a)[0] AS from_kind, a.id AS from_id, labels(b)[0] AS to_kind, b.id AS to_id,
		       type(r) AS type, r.id AS id, r.created_at AS created_at`, nil)
	if err != nil {
		return Snapshot{}, err
	}
	for _, rec := range edges.Records {
		m := rec.AsMap()
		e := Edge{
			ID:       asString(m["id"]),
			FromKind: NodeKind(asString(m["from_kind"])),
			FromID:   asString(m["from_id"]),
			ToKind:   NodeKind(asString(m["to_kind"])),
			ToID:     asString(m["to_id"]),
			Type:     asString(m["type"]),
		}
		if t, ok := m["created_at"].(time.Time); ok {
			e.CreatedAt = t
		}
		snap.Edges = append(snap.Edges, e)
	}
	return snap, nil
}

func (s *Neo4jStore) RelatedDocuments(ctx context.Context, documentID string) ([]Related, error) {
	res, err := s.run(ctx, `
		MATCH (d:Document {id: $doc_id})-[r]-(related:Document)
		WHERE related.id <> $doc_id
		RETURN related, type(r) AS relationship`, map[string]any{"doc_id": documentID})
	if err != nil {
		return nil, err
	}
	out := []Related{}
	for _, rec := range res.Records {
		v, _ := rec.Get("related")
		n, ok := v.(neo4j.Node)
		if !ok {
			continue
		}
		rel, _ := rec.Get("relationship")
		out = append(out, Related{Node: fromNeo4jNode(n), Relationship: asString(rel)})
	}
	return out, nil
}

// Query executes raw Cypher verbatim.
func (s *Neo4jStore) Query(ctx context.Context, c Capability, raw string) ([]Row, error) {
	if !c.granted {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(raw) == "" {
		return []Row{}, nil
	}
	res, err := s.run(ctx, raw, nil)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(res.Records))
	for _, rec := range res.Records {
		row := Row{}
		for k, v := range rec.AsMap() {
			row[k] = plain(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fromNeo4jNode(n neo4j.Node) Node {
	out := Node{Labels: n.Labels, Props: map[string]any{}}
	for k, v := range n.Props {
		switch k {
		case "id":
			out.ID = asString(v)
		case "created_at":
			out.CreatedAt = asTime(v)
		case "updated_at":
			out.UpdatedAt = asTime(v)
		default:
			out.Props[k] = plain(v)
		}
	}
	for _, l := range n.Labels {
		if validKind(NodeKind(l)) == nil {
			out.Kind = NodeKind(l)
			break
		}
	}
	return out
}

// plain converts driver graph types into JSON-friendly values.
func plain(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		return map[string]any{"labels": t.Labels, "properties": t.Props}
	case neo4j.Relationship:
		return map[string]any{"type": t.Type, "properties": t.Props}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	}
	return v
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case neo4j.LocalDateTime:
		return t.Time()
	}
	return time.Time{}
}

func toInt64(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}
