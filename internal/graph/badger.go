package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/oklog/ulid/v2"
)

const (
	nodePrefix = "node:"
	edgePrefix = "edge:"
	adjPrefix  = "adj:"

	maxConflictRetries = 5
)

// BadgerStore is an embedded graph. Keys:
//
//	node:<kind>:<id>           node JSON
//	edge:<ulid>                edge JSON
//	adj:<kind>:<id>:<ulid>     edge id, written for both endpoints
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*BadgerStore)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// OpenBadger opens the graph at dir, or in memory when inMemory is set.
func OpenBadger(dir string, inMemory bool, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "graph-badger")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create graph dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("%w: %w: %s", ErrGraphUnavailable, ErrGraphLocked, dir)
		}
		return nil, fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return &BadgerStore{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func nodeKey(kind NodeKind, id string) []byte {
	return []byte(nodePrefix + string(kind) + ":" + id)
}

func edgeKey(id string) []byte {
	return []byte(edgePrefix + id)
}

func adjKey(kind NodeKind, id, edgeID string) []byte {
	return []byte(adjPrefix + string(kind) + ":" + id + ":" + edgeID)
}

func adjScanPrefix(kind NodeKind, id string) []byte {
	return []byte(adjPrefix + string(kind) + ":" + id + ":")
}

// update retries on transaction conflicts and maps a closed database to ErrGraphUnavailable.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	return s.wrap(err)
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	return s.wrap(s.db.View(fn))
}

func (s *BadgerStore) wrap(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", ErrGraphUnavailable, err)
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func (s *BadgerStore) UpsertNode(ctx context.Context, n Node) error {
	if err := validKind(n.Kind); err != nil {
		return err
	}
	if n.ID == "" {
		return fmt.Errorf("graph: node id required")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		key := nodeKey(n.Kind, n.ID)
		now := s.now()

		var existing Node
		err := getJSON(txn, key, &existing)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			merged := n
			merged.Labels = mergeLabels(string(n.Kind), nil, n.Labels)
			merged.Props = mergeProps(nil, n.Props)
			merged.CreatedAt = now
			merged.UpdatedAt = now
			return setJSON(txn, key, merged)
		case err != nil:
			return err
		}

		existing.Labels = mergeLabels(string(n.Kind), existing.Labels, n.Labels)
		existing.Props = mergeProps(existing.Props, n.Props)
		existing.UpdatedAt = now
		return setJSON(txn, key, existing)
	})
}

func (s *BadgerStore) CreateEdge(ctx context.Context, e Edge) (Edge, error) {
	if err := validEdge(e); err != nil {
		return Edge{}, err
	}
	e.ID = ulid.Make().String()
	e.CreatedAt = s.now()

	err := s.update(ctx, func(txn *badger.Txn) error {
		for _, key := range [][]byte{nodeKey(e.FromKind, e.FromID), nodeKey(e.ToKind, e.ToID)} {
			if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNodeNotFound, key)
			} else if err != nil {
				return err
			}
		}
		if err := setJSON(txn, edgeKey(e.ID), e); err != nil {
			return err
		}
		if err := txn.Set(adjKey(e.FromKind, e.FromID, e.ID), []byte(e.ID)); err != nil {
			return err
		}
		return txn.Set(adjKey(e.ToKind, e.ToID, e.ID), []byte(e.ID))
	})
	if err != nil {
		return Edge{}, err
	}
	return e, nil
}

func (s *BadgerStore) AllRelationships(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Nodes: []Node{}, Edges: []Edge{}}
	err := s.view(func(txn *badger.Txn) error {
		if err := scanPrefix(txn, []byte(nodePrefix), func(_ []byte, val []byte) error {
			var n Node
			if err := json.Unmarshal(val, &n); err != nil {
				return err
			}
			snap.Nodes = append(snap.Nodes, n)
			return nil
		}); err != nil {
			return err
		}
		return scanPrefix(txn, []byte(edgePrefix), func(_ []byte, val []byte) error {
			var e Edge
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			snap.Edges = append(snap.Edges, e)
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// RelatedDocuments returns Document nodes joined to documentID by an edge in either direction.
func (s *BadgerStore) RelatedDocuments(ctx context.Context, documentID string) ([]Related, error) {
	out := []Related{}
	err := s.view(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(KindDocument, documentID)); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		return scanPrefix(txn, adjScanPrefix(KindDocument, documentID), func(_ []byte, val []byte) error {
			var e Edge
			if err := getJSON(txn, edgeKey(string(val)), &e); err != nil {
				return err
			}
			otherKind, otherID := e.ToKind, e.ToID
			if e.ToKind == KindDocument && e.ToID == documentID {
				otherKind, otherID = e.FromKind, e.FromID
			}
			if otherKind != KindDocument || otherID == documentID {
				return nil
			}
			var n Node
			if err := getJSON(txn, nodeKey(otherKind, otherID), &n); err != nil {
				return err
			}
			out = append(out, Related{Node: n, Relationship: e.Type})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Query treats raw as a key prefix and returns every matching entry.
func (s *BadgerStore) Query(ctx context.Context, c Capability, raw string) ([]Row, error) {
	if !c.granted {
		return nil, ErrForbidden
	}
	rows := []Row{}
	err := s.view(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(raw), func(key []byte, val []byte) error {
			row := Row{"key": string(key)}
			var decoded any
			if json.Unmarshal(val, &decoded) == nil {
				row["value"] = decoded
			} else {
				row["value"] = string(val)
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error {
			return fn(key, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

func mergeLabels(primary string, existing, extra []string) []string {
	out := []string{primary}
	for _, l := range append(slices.Clone(existing), extra...) {
		if l != "" && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

func mergeProps(existing, update map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(update))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}
