package graphquery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dochub/internal/graph"
	"dochub/internal/logger"
)

const testToken = "s3cret"

func TestQueryHandler(t *testing.T) {
	tests := []struct {
		name       string
		adminToken string
		token      string
		body       string
		setup      func(*graph.MockGraph)
		wantStatus int
		wantCount  int
	}{
		{
			name:       "authorized query",
			adminToken: testToken,
			token:      testToken,
			body:       `{"query":"MATCH (d:Document) RETURN d.id"}`,
			setup: func(g *graph.MockGraph) {
				g.On("Query", mock.Anything, mock.Anything, "MATCH (d:Document) RETURN d.id").
					Return([]graph.Row{{"d.id": "a"}, {"d.id": "b"}}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:       "wrong token",
			adminToken: testToken,
			token:      "guess",
			body:       `{"query":"MATCH (n) DETACH DELETE n"}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing token",
			adminToken: testToken,
			body:       `{"query":"MATCH (n) RETURN n"}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no admin token configured",
			token:      "",
			body:       `{"query":"MATCH (n) RETURN n"}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "empty query",
			adminToken: testToken,
			token:      testToken,
			body:       `{"query":""}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "graph unavailable",
			adminToken: testToken,
			token:      testToken,
			body:       `{"query":"MATCH (n) RETURN n"}`,
			setup: func(g *graph.MockGraph) {
				g.On("Query", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, graph.ErrGraphUnavailable).Once()
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "syntax error",
			adminToken: testToken,
			token:      testToken,
			body:       `{"query":"MATC (n)"}`,
			setup: func(g *graph.MockGraph) {
				g.On("Query", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New("Invalid input 'MATC'")).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := new(graph.MockGraph)
			if tt.setup != nil {
				tt.setup(g)
			}

			req := httptest.NewRequest(http.MethodPost, "/internal/graph/query", strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set(AdminTokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			NewRouter(logger.Discard(), g, tt.adminToken).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusOK {
				var body struct {
					Count int         `json:"count"`
					Rows  []graph.Row `json:"rows"`
				}
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, tt.wantCount, body.Count)
				assert.Len(t, body.Rows, tt.wantCount)
			}
			g.AssertExpectations(t)
		})
	}
}

func TestQueryAgainstBadger(t *testing.T) {
	g, err := graph.OpenBadger("", true, logger.Discard())
	require.NoError(t, err)
	defer g.Close()
	require.NoError(t, g.UpsertNode(context.Background(), graph.Node{Kind: graph.KindUser, ID: "u1"}))

	req := httptest.NewRequest(http.MethodPost, "/internal/graph/query", strings.NewReader(`{"query":"node:User:"}`))
	req.Header.Set(AdminTokenHeader, testToken)
	w := httptest.NewRecorder()
	NewRouter(logger.Discard(), g, testToken).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count": 1`)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, logger.Discard(), "127.0.0.1:0", NewRouter(logger.Discard(), new(graph.MockGraph), testToken))
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
