package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dochub/internal/app"
	"dochub/internal/blob"
	"dochub/internal/classify"
	"dochub/internal/config"
	"dochub/internal/extract"
	"dochub/internal/graph"
	"dochub/internal/graphquery"
	"dochub/internal/logger"
	"dochub/internal/pipeline"
	"dochub/internal/store"
	"dochub/internal/summarize"
	"dochub/internal/workpool"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) DispatchProcess(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDispatcher) DispatchSummarize(ctx context.Context, id uuid.UUID, t summarize.Type) error {
	return m.Called(ctx, id, t).Error(0)
}

type testEnv struct {
	store      *store.MockStore
	graph      *graph.MockGraph
	dispatcher *mockDispatcher
	blobDir    string
	deps       app.Deps
}

func newTestDeps(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      new(store.MockStore),
		graph:      new(graph.MockGraph),
		dispatcher: new(mockDispatcher),
	}
	log := logger.Discard()

	env.blobDir = t.TempDir()
	blobs, err := blob.NewLocal(env.blobDir)
	require.NoError(t, err)
	pool, err := workpool.New(2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Release(time.Second) })

	orch, err := pipeline.New(env.store, extract.New(blobs), classify.Default(), summarize.New(nil),
		pipeline.WithGraph(env.graph),
		pipeline.WithPool(pool),
		pipeline.WithLogger(log))
	require.NoError(t, err)

	env.deps = app.Deps{
		Config:     config.Config{MaxUploadSize: 1024 * 1024}, // 1MB for tests
		Log:        log,
		Blobs:      blobs,
		Store:      env.store,
		Graph:      env.graph,
		Pipeline:   orch,
		Dispatcher: env.dispatcher,
	}
	return env
}

func (env *testEnv) assertExpectations(t *testing.T) {
	env.store.AssertExpectations(t)
	env.graph.AssertExpectations(t)
	env.dispatcher.AssertExpectations(t)
}

func (env *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	newRouter(env.deps).ServeHTTP(w, req)
	return w
}

func completedDoc(id uuid.UUID, text string) store.Document {
	conf := 1.0
	return store.Document{ID: id, State: store.StateCompleted, ExtractedText: &text, Confidence: &conf, Language: "en"}
}

func TestUploadHandler(t *testing.T) {
	docID := uuid.New()
	userID := uuid.New()

	tests := []struct {
		name        string
		filename    string
		contentType string
		content     []byte
		fields      map[string]string
		userHeader  string
		setup       func(*testEnv)
		wantStatus  int
	}{
		{
			name:        "successful upload",
			filename:    "report.txt",
			contentType: "text/plain",
			content:     []byte("Safety inspection report."),
			fields:      map[string]string{"document_type": "inspection", "department": "Operations"},
			setup: func(env *testEnv) {
				env.store.On("CreateDocument", mock.Anything, mock.MatchedBy(func(nd store.NewDocument) bool {
					return nd.OriginalFilename == "report.txt" && nd.Title == "report.txt" &&
						nd.MIMEType == "text/plain" && nd.CategoryHint == "inspection" &&
						nd.Department == "Operations" && nd.Blob.Provider == "local" && !nd.OwnerID.Valid
				})).Return(store.Document{ID: docID, OriginalFilename: "report.txt", State: store.StatePending}, nil).Once()
				env.dispatcher.On("DispatchProcess", mock.Anything, docID).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:     "missing Content-Type detects from extension",
			filename: "scan.png",
			content:  []byte("not really a png"),
			setup: func(env *testEnv) {
				env.store.On("CreateDocument", mock.Anything, mock.MatchedBy(func(nd store.NewDocument) bool {
					return nd.MIMEType == "image/png"
				})).Return(store.Document{ID: docID, State: store.StatePending}, nil).Once()
				env.dispatcher.On("DispatchProcess", mock.Anything, docID).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:        "department falls back to uploader",
			filename:    "memo.txt",
			contentType: "text/plain",
			content:     []byte("memo"),
			userHeader:  userID.String(),
			setup: func(env *testEnv) {
				env.store.On("GetUser", mock.Anything, userID).
					Return(store.User{ID: userID, Department: "Finance"}, nil).Once()
				env.store.On("CreateDocument", mock.Anything, mock.MatchedBy(func(nd store.NewDocument) bool {
					return nd.OwnerID.Valid && nd.OwnerID.UUID == userID && nd.Department == "Finance"
				})).Return(store.Document{ID: docID, State: store.StatePending}, nil).Once()
				env.dispatcher.On("DispatchProcess", mock.Anything, docID).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:        "file too large",
			filename:    "large.txt",
			contentType: "text/plain",
			content:     make([]byte, 2*1024*1024), // 2MB
			wantStatus:  http.StatusRequestEntityTooLarge,
		},
		{
			name:        "invalid user header",
			filename:    "a.txt",
			contentType: "text/plain",
			content:     []byte("a"),
			userHeader:  "alice",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "title too long",
			filename:    "a.txt",
			contentType: "text/plain",
			content:     []byte("a"),
			fields:      map[string]string{"title": strings.Repeat("t", 300)},
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "CreateDocument failure",
			filename:    "a.txt",
			contentType: "text/plain",
			content:     []byte("a"),
			setup: func(env *testEnv) {
				env.store.On("CreateDocument", mock.Anything, mock.Anything).
					Return(store.Document{}, errors.New("db error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:        "dispatch failure keeps the record",
			filename:    "a.txt",
			contentType: "text/plain",
			content:     []byte("a"),
			setup: func(env *testEnv) {
				env.store.On("CreateDocument", mock.Anything, mock.Anything).
					Return(store.Document{ID: docID, State: store.StatePending}, nil).Once()
				env.dispatcher.On("DispatchProcess", mock.Anything, docID).Return(errors.New("no responders")).Once()
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestDeps(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			req, err := createMultipartRequest(tt.filename, tt.contentType, tt.content, tt.fields)
			require.NoError(t, err)
			if tt.userHeader != "" {
				req.Header.Set("X-User-ID", tt.userHeader)
			}

			w := env.do(req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if w.Code == http.StatusAccepted || w.Code == http.StatusServiceUnavailable {
				var result map[string]any
				require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
				assert.Equal(t, docID.String(), result["document_id"])
				assert.Equal(t, string(store.StatePending), result["processing_state"])
			}
			env.assertExpectations(t)
		})
	}

	t.Run("failed insert removes the stored file", func(t *testing.T) {
		env := newTestDeps(t)
		env.store.On("CreateDocument", mock.Anything, mock.Anything).
			Return(store.Document{}, errors.New("db error")).Once()

		req, err := createMultipartRequest("a.txt", "text/plain", []byte("orphan"), nil)
		require.NoError(t, err)
		w := env.do(req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		entries, err := os.ReadDir(env.blobDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
		env.assertExpectations(t)
	})

	t.Run("missing file", func(t *testing.T) {
		env := newTestDeps(t)
		req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", nil)
		req.Header.Set("Content-Type", "multipart/form-data")
		w := env.do(req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocumentHandlers(t *testing.T) {
	docID := uuid.New()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		setup      func(*testEnv)
		wantStatus int
		wantBody   string
	}{
		{
			name:   "get document with text",
			method: http.MethodGet,
			path:   "/api/documents/" + docID.String(),
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(completedDoc(docID, "hello world"), nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"extracted_text": "hello world"`,
		},
		{
			name:       "invalid id",
			method:     http.MethodGet,
			path:       "/api/documents/not-a-uuid",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "not found",
			method: http.MethodGet,
			path:   "/api/documents/" + docID.String(),
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(store.Document{}, store.ErrDocumentNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "list",
			method: http.MethodGet,
			path:   "/api/documents?offset=20&limit=10",
			setup: func(env *testEnv) {
				env.store.On("ListDocuments", mock.Anything, 20, 10).Return([]store.Document{completedDoc(docID, "x")}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   docID.String(),
		},
		{
			name:       "list with bad limit",
			method:     http.MethodGet,
			path:       "/api/documents?limit=1000",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "search",
			method: http.MethodPost,
			path:   "/api/documents/search",
			body:   `{"query":"audit"}`,
			setup: func(env *testEnv) {
				env.store.On("SearchDocuments", mock.Anything, "audit", defaultPageSize).Return([]store.Document{}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"documents": []`,
		},
		{
			name:       "search without query",
			method:     http.MethodPost,
			path:       "/api/documents/search",
			body:       `{"limit":5}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "stats",
			method: http.MethodGet,
			path:   "/api/documents/stats",
			setup: func(env *testEnv) {
				env.store.On("CountByState", mock.Anything).
					Return(map[store.State]int{store.StateCompleted: 3, store.StateFailed: 1}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"total": 4`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestDeps(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			w := env.do(httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			env.assertExpectations(t)
		})
	}
}

func TestSummarizeHandler(t *testing.T) {
	docID := uuid.New()
	path := "/api/documents/" + docID.String() + "/summarize"

	tests := []struct {
		name       string
		body       string
		setup      func(*testEnv)
		wantStatus int
		wantBody   string
	}{
		{
			name: "pending document is a conflict",
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).
					Return(store.Document{ID: docID, State: store.StatePending}, nil).Once()
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "missing text is a bad request",
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(completedDoc(docID, ""), nil).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "existing summary returned",
			body: `{"summary_type":"abstractive"}`,
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(completedDoc(docID, "text"), nil).Once()
				env.store.On("GetSummary", mock.Anything, docID, "abstractive").
					Return(store.Summary{ID: "01J", DocumentID: docID, Text: "short", Type: "abstractive", Confidence: 0.85}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"status": "cached"`,
		},
		{
			name: "unavailable model is degraded not stored",
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(completedDoc(docID, "text"), nil).Once()
				env.store.On("GetSummary", mock.Anything, docID, "abstractive").
					Return(store.Summary{}, store.ErrSummaryNotFound).Twice()
			},
			wantStatus: http.StatusOK,
			wantBody:   summarize.UnavailableText,
		},
		{
			name: "async dispatch",
			body: `{"summary_type":"extractive","async":true}`,
			setup: func(env *testEnv) {
				env.dispatcher.On("DispatchSummarize", mock.Anything, docID, summarize.Extractive).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "unknown type",
			body:       `{"summary_type":"bullets"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestDeps(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			w := env.do(httptest.NewRequest(http.MethodPost, path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			env.assertExpectations(t)
		})
	}
}

func TestSummaryHandler(t *testing.T) {
	docID := uuid.New()

	env := newTestDeps(t)
	env.store.On("GetSummary", mock.Anything, docID, "extractive").
		Return(store.Summary{}, store.ErrSummaryNotFound).Once()
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+docID.String()+"/summary?type=extractive", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+docID.String()+"/summary?type=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env.assertExpectations(t)
}

func TestGraphHandlers(t *testing.T) {
	docID := uuid.New()
	otherID := uuid.New()
	userID := uuid.New()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		setup      func(*testEnv)
		wantStatus int
		wantBody   string
	}{
		{
			name:   "related documents",
			method: http.MethodGet,
			path:   "/api/documents/" + docID.String() + "/related",
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(completedDoc(docID, "a"), nil).Once()
				env.graph.On("RelatedDocuments", mock.Anything, docID.String()).Return([]graph.Related{{
					Node:         graph.Node{Kind: graph.KindDocument, ID: otherID.String()},
					Relationship: graph.EdgeRelatedTo,
				}}, nil).Once()
				env.store.On("GetDocumentsByIDs", mock.Anything, []uuid.UUID{otherID}).
					Return([]store.Document{completedDoc(otherID, "b")}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   otherID.String(),
		},
		{
			name:   "related with graph down is empty",
			method: http.MethodGet,
			path:   "/api/documents/" + docID.String() + "/related",
			setup: func(env *testEnv) {
				env.store.On("GetDocument", mock.Anything, docID).Return(completedDoc(docID, "a"), nil).Once()
				env.graph.On("RelatedDocuments", mock.Anything, docID.String()).Return(nil, graph.ErrGraphUnavailable).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"related": []`,
		},
		{
			name:   "link to missing document",
			method: http.MethodPost,
			path:   "/api/documents/" + docID.String() + "/relationships",
			body:   fmt.Sprintf(`{"target_id":%q}`, otherID),
			setup: func(env *testEnv) {
				env.graph.On("CreateEdge", mock.Anything, mock.MatchedBy(func(e graph.Edge) bool {
					return e.FromID == docID.String() && e.ToID == otherID.String() && e.Type == graph.EdgeRelatedTo
				})).Return(graph.Edge{}, graph.ErrNodeNotFound).Once()
			},
			wantStatus: http.StatusConflict,
		},
		{
			name:   "link created",
			method: http.MethodPost,
			path:   "/api/documents/" + docID.String() + "/relationships",
			body:   fmt.Sprintf(`{"target_id":%q,"relationship":"SUPERSEDES"}`, otherID),
			setup: func(env *testEnv) {
				env.graph.On("CreateEdge", mock.Anything, mock.Anything).
					Return(graph.Edge{ID: "01K", Type: "SUPERSEDES"}, nil).Once()
			},
			wantStatus: http.StatusCreated,
			wantBody:   `"applied": true`,
		},
		{
			name:       "link with bad target",
			method:     http.MethodPost,
			path:       "/api/documents/" + docID.String() + "/relationships",
			body:       `{"target_id":"nope"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "relationships snapshot with graph down",
			method: http.MethodGet,
			path:   "/api/graph/relationships",
			setup: func(env *testEnv) {
				env.graph.On("AllRelationships", mock.Anything).Return(graph.Snapshot{}, graph.ErrGraphUnavailable).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `"nodes": []`,
		},
		{
			name:   "create user",
			method: http.MethodPost,
			path:   "/api/users",
			body:   fmt.Sprintf(`{"id":%q,"name":"Asha","department":"Operations"}`, userID),
			setup: func(env *testEnv) {
				env.store.On("UpsertUser", mock.Anything, mock.MatchedBy(func(u store.User) bool {
					return u.ID == userID && u.Name == "Asha"
				})).Return(store.User{ID: userID, Name: "Asha", Department: "Operations"}, nil).Once()
				env.graph.On("UpsertNode", mock.Anything, mock.MatchedBy(func(n graph.Node) bool {
					return n.Kind == graph.KindUser && n.ID == userID.String()
				})).Return(nil).Once()
			},
			wantStatus: http.StatusCreated,
			wantBody:   `"graph": "written"`,
		},
		{
			name:       "create user without name",
			method:     http.MethodPost,
			path:       "/api/users",
			body:       `{"role":"engineer"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "raw graph query is not public",
			method:     http.MethodPost,
			path:       "/api/graph/query",
			body:       `{"query":"MATCH (n) RETURN n"}`,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestDeps(t)
			if tt.setup != nil {
				tt.setup(env)
			}
			w := env.do(httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
			env.assertExpectations(t)
		})
	}
}

func TestEmbeddedGraphQuery(t *testing.T) {
	env := newTestDeps(t)
	assert.Nil(t, embeddedGraphQuery(env.deps), "no graph provider set")

	env.deps.Config.GraphProvider = "badger"
	assert.Nil(t, embeddedGraphQuery(env.deps), "no admin token")

	env.deps.Config.GraphAdminToken = "s3cret"
	h := embeddedGraphQuery(env.deps)
	require.NotNil(t, h)

	env.graph.On("Query", mock.Anything, mock.Anything, "node:User:").
		Return([]graph.Row{{"id": "u1"}}, nil).Once()
	req := httptest.NewRequest(http.MethodPost, "/internal/graph/query", strings.NewReader(`{"query":"node:User:"}`))
	req.Header.Set(graphquery.AdminTokenHeader, "s3cret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The public router never serves raw queries.
	w = env.do(httptest.NewRequest(http.MethodPost, "/internal/graph/query", strings.NewReader(`{"query":"x"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
	env.assertExpectations(t)

	env.deps.Config.GraphProvider = "neo4j"
	assert.Nil(t, embeddedGraphQuery(env.deps), "neo4j is shared through cmd/graphquery")
}

func TestHealthz(t *testing.T) {
	env := newTestDeps(t)
	env.store.On("CountByState", mock.Anything).Return(map[store.State]int{}, nil).Once()
	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	env.store.On("CountByState", mock.Anything).Return(nil, errors.New("database is locked")).Once()
	w = env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestContentType(t *testing.T) {
	tests := []struct {
		declared, ext, want string
	}{
		{"text/plain; charset=utf-8", ".txt", "text/plain"},
		{"", ".pdf", "application/pdf"},
		{"application/octet-stream", ".png", "image/png"},
		{"", ".unknownext", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contentType(tt.declared, tt.ext), "%q %q", tt.declared, tt.ext)
	}
}

func createMultipartRequest(filename, contentType string, content []byte, fields map[string]string) (*http.Request, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, err
		}
	}

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
