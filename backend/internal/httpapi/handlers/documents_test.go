package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/httpapi/middleware"
	"collabEngine/backend/internal/ot"
)

type memPersistence struct {
	mu   sync.Mutex
	rows map[string]string
}

func (p *memPersistence) SaveFinalContent(_ context.Context, entityID, field, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows[entityID+"/"+field] = content
	return nil
}

func (p *memPersistence) LoadInitialContent(_ context.Context, entityID, field string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows[entityID+"/"+field], nil
}

var secret = []byte("test-secret")

func newTestServer(t *testing.T) (*gin.Engine, *memPersistence) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bridge := cache.NewBridge(cache.NewMemoryStore(), zap.NewNop(), cache.BridgeOptions{})
	t.Cleanup(func() { _ = bridge.Close(context.Background()) })
	persist := &memPersistence{rows: map[string]string{"doc-1/body": "hello"}}
	engine := collab.NewEngine(persist, bridge, zap.NewNop(), collab.Options{})

	r := gin.New()
	g := r.Group("/collab", middleware.AuthMiddleware(secret, nil))
	NewDocumentHandler(engine, nil).Register(g)
	return r, persist
}

func call(t *testing.T, r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := middleware.SignAccessToken(secret, user, "", time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

const docPath = "/collab/documents/doc-1/body"

func TestDocuments_EditingFlow(t *testing.T) {
	r, persist := newTestServer(t)

	w := call(t, r, http.MethodPost, docPath+"/session", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[collab.DocumentState](t, w)
	assert.Equal(t, "hello", st.Content)
	assert.Equal(t, []string{"alice"}, st.Collaborators)

	w = call(t, r, http.MethodPost, docPath+"/ops", "alice", gin.H{
		"op":            ot.EditOperation{Type: ot.KindInsert, Position: 5, Content: " world"},
		"clientVersion": 0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	applied := decode[ot.TransformedOperation](t, w)
	assert.Equal(t, 1, applied.Version)
	assert.Equal(t, "alice", applied.UserID)

	w = call(t, r, http.MethodGet, docPath, "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", decode[collab.DocumentState](t, w).Content)

	w = call(t, r, http.MethodGet, docPath+"/collaborators", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alice"}, decode[map[string][]string](t, w)["collaborators"])

	w = call(t, r, http.MethodGet, docPath+"/history?limit=10", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[map[string][]ot.TransformedOperation](t, w)["operations"]
	require.Len(t, hist, 1)
	assert.Equal(t, " world", hist[0].Content)

	w = call(t, r, http.MethodDelete, docPath+"/session", "alice", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "hello world", persist.rows["doc-1/body"])

	w = call(t, r, http.MethodGet, docPath, "alice", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocuments_ErrorMapping(t *testing.T) {
	r, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, call(t, r, http.MethodPost, docPath+"/session", "alice", nil).Code)

	w := call(t, r, http.MethodPost, docPath+"/ops", "alice", gin.H{
		"op":            ot.EditOperation{Type: ot.KindInsert, Position: 0, Content: "x"},
		"clientVersion": 5,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "VERSION_AHEAD", body["code"])
	assert.EqualValues(t, 0, body["serverVersion"])

	w = call(t, r, http.MethodPost, docPath+"/ops", "alice", gin.H{
		"op":            gin.H{"type": "replace", "position": 0},
		"clientVersion": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_OPERATION", decode[map[string]any](t, w)["code"])

	w = call(t, r, http.MethodPost, docPath+"/ops", "alice", gin.H{
		"op": ot.EditOperation{Type: ot.KindInsert, Position: 0, Content: "x"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, http.MethodGet, docPath+"/history?limit=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, r, http.MethodGet, docPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ot.ErrInvalidOperation, http.StatusBadRequest, "INVALID_OPERATION"},
		{&collab.VersionError{Err: collab.ErrVersionAhead}, http.StatusConflict, "VERSION_AHEAD"},
		{&collab.VersionError{Err: collab.ErrHistoryTruncated}, http.StatusConflict, "HISTORY_TRUNCATED"},
		{collab.ErrQueueTimeout, http.StatusServiceUnavailable, "QUEUE_TIMEOUT"},
		{collab.ErrEngineClosed, http.StatusServiceUnavailable, "ENGINE_CLOSED"},
		{assert.AnError, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		status, code := ErrorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.code)
		assert.Equal(t, tc.code, code)
	}
}
