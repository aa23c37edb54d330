package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gammanik/model-uploader/internal/chunkplan"
	"github.com/Gammanik/model-uploader/internal/hasher"
	"github.com/Gammanik/model-uploader/internal/metastore"
	"github.com/Gammanik/model-uploader/internal/storage"
	"github.com/Gammanik/model-uploader/internal/upload"
)

// memoryBackend хранит метаданные и чанки в памяти
type memoryBackend struct {
	mu     sync.Mutex
	meta   []storage.ModelMeta
	chunks []string
	failOn string
	block  bool
	delay  time.Duration
}

func (b *memoryBackend) RegisterModelMeta(ctx context.Context, meta storage.ModelMeta) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta = append(b.meta, meta)
	return "model-1", nil
}

func (b *memoryBackend) UploadChunk(ctx context.Context, transferID, chunkIndex string, data []byte) error {
	if b.block {
		<-ctx.Done()
		return ctx.Err()
	}
	time.Sleep(b.delay)
	if chunkIndex == b.failOn {
		return errors.New("backend rejected chunk")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, transferID+"/"+chunkIndex+":"+string(data))
	return nil
}

// slowStore замедляет запись прогресса и запоминает порядок вызовов
type slowStore struct {
	metastore.MetaStore
	mu     sync.Mutex
	events []string
}

func (s *slowStore) SaveProgress(id string, acked int) error {
	time.Sleep(30 * time.Millisecond)
	err := s.MetaStore.SaveProgress(id, acked)
	s.record("progress")
	return err
}

func (s *slowStore) MarkComplete(id string) error {
	s.record("complete")
	return s.MetaStore.MarkComplete(id)
}

func (s *slowStore) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

type testEnv struct {
	handler *UploadHandler
	backend *memoryBackend
	router  http.Handler
	file    string
	content []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := metastore.NewBoltStore(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)

	content := []byte("0123456789abcdefghij!")
	file := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(file, content, 0o644))

	backend := &memoryBackend{}
	h := NewUploadHandler(store, backend, upload.NewOrchestrator(upload.NewRegistry()), hasher.New(7), 10)
	h.ChunkFloor = 0
	h.ProgressDelay = time.Millisecond

	t.Cleanup(func() {
		h.Shutdown(context.Background())
		store.Close()
	})

	return &testEnv{handler: h, backend: backend, router: h.Router(), file: file, content: content}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func (e *testEnv) start(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	rr := e.do(t, "POST", "/uploads", body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var out map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.NotEmpty(t, out["id"])
	return out["id"]
}

func (e *testEnv) record(t *testing.T, id string) metastore.TransferRecord {
	t.Helper()
	rr := e.do(t, "GET", "/uploads/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec metastore.TransferRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
	return rec
}

func TestUploadCompletes(t *testing.T) {
	env := newTestEnv(t)

	id := env.start(t, map[string]interface{}{"path": env.file, "name": "tiny-bert", "modelFormat": "ONNX"})
	env.handler.Wait()

	rec := env.record(t, id)
	assert.Equal(t, metastore.StatusCompleted, rec.Status)
	assert.Equal(t, "model-1", rec.ModelID)
	assert.Equal(t, hasher.HashBytes(env.content), rec.Digest)
	assert.Equal(t, 3, rec.TotalChunks)
	assert.Equal(t, 3, rec.Acked)
	assert.Equal(t, int64(10), rec.ChunkSize)

	require.Len(t, env.backend.meta, 1)
	assert.Equal(t, rec.Digest, env.backend.meta[0].ContentHash)
	assert.Equal(t, 3, env.backend.meta[0].TotalChunks)
	assert.Equal(t, []string{"model-1/0:0123456789", "model-1/1:abcdefghij", "model-1/2:!"}, env.backend.chunks)
}

func TestProgressSavedBeforeTerminalState(t *testing.T) {
	env := newTestEnv(t)
	store := &slowStore{MetaStore: env.handler.Store}
	env.handler.Store = store
	env.backend.delay = 5 * time.Millisecond

	id := env.start(t, map[string]interface{}{"path": env.file, "name": "tiny-bert"})
	env.handler.Wait()

	store.mu.Lock()
	events := append([]string(nil), store.events...)
	store.mu.Unlock()

	require.NotEmpty(t, events)
	assert.Equal(t, "complete", events[len(events)-1])
	assert.Equal(t, 1, strings.Count(strings.Join(events, ","), "complete"))

	rec := env.record(t, id)
	assert.Equal(t, metastore.StatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.Acked)
}

func TestUploadWithKnownModelSkipsRegistration(t *testing.T) {
	env := newTestEnv(t)

	id := env.start(t, map[string]interface{}{"path": env.file, "modelId": "existing", "chunkSize": 100})
	env.handler.Wait()

	rec := env.record(t, id)
	assert.Equal(t, metastore.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.TotalChunks)
	assert.Empty(t, env.backend.meta)
	assert.Equal(t, []string{"existing/0:" + string(env.content)}, env.backend.chunks)
}

func TestUploadFails(t *testing.T) {
	env := newTestEnv(t)
	env.backend.failOn = "1"

	id := env.start(t, map[string]interface{}{"path": env.file, "name": "tiny-bert"})
	env.handler.Wait()

	rec := env.record(t, id)
	assert.Equal(t, metastore.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "chunk 1")
	assert.Contains(t, rec.Error, "backend rejected chunk")
	assert.Equal(t, 1, rec.Acked)
	assert.True(t, env.handler.Orchestrator.Registry().IsEmpty())
}

func TestUploadCancelAndActive(t *testing.T) {
	env := newTestEnv(t)
	env.backend.block = true

	id := env.start(t, map[string]interface{}{"path": env.file, "name": "tiny-bert"})

	registry := env.handler.Orchestrator.Registry()
	require.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, time.Millisecond)

	rr := env.do(t, "GET", "/uploads/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var active struct {
		Active    int      `json:"active"`
		Transfers []string `json:"transfers"`
		Warn      bool     `json:"warn"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&active))
	assert.Equal(t, 1, active.Active)
	assert.Equal(t, []string{"model-1"}, active.Transfers)
	assert.True(t, active.Warn)

	assert.Equal(t, http.StatusAccepted, env.do(t, "DELETE", "/uploads/"+id, nil).Code)
	env.handler.Wait()

	rec := env.record(t, id)
	assert.Equal(t, metastore.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "context canceled")
	assert.True(t, registry.IsEmpty())
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/uploads/"+id, nil).Code)
}

func TestUploadBadRequests(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name string
		body interface{}
	}{
		{name: "no path", body: map[string]string{"name": "x"}},
		{name: "no name", body: map[string]string{"path": env.file}},
		{name: "missing file", body: map[string]string{"path": env.file + ".missing", "name": "x"}},
		{name: "directory", body: map[string]string{"path": filepath.Dir(env.file), "name": "x"}},
		{name: "huge chunk size", body: map[string]interface{}{"path": env.file, "name": "x", "chunkSize": int64(math.MaxInt64)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/uploads", tc.body).Code)
		})
	}

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest("POST", "/uploads", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadChunkSizeLargerThanFile(t *testing.T) {
	env := newTestEnv(t)

	id := env.start(t, map[string]interface{}{"path": env.file, "name": "tiny-bert", "chunkSize": chunkplan.MaxChunkSize})
	env.handler.Wait()

	rec := env.record(t, id)
	assert.Equal(t, metastore.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.TotalChunks)
	require.Len(t, env.backend.meta, 1)
	assert.Equal(t, 1, env.backend.meta[0].TotalChunks)
	assert.Equal(t, []string{"model-1/0:" + string(env.content)}, env.backend.chunks)
}

func TestListAndGet(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/uploads/nope", nil).Code)

	id := env.start(t, map[string]interface{}{"path": env.file, "name": "tiny-bert"})
	env.handler.Wait()

	rr := env.do(t, "GET", "/uploads", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var records []metastore.TransferRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
}

func TestHashEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/hash", map[string]string{"path": env.file})
	require.Equal(t, http.StatusOK, rr.Code)

	var out struct {
		Digest string `json:"digest"`
		Size   int64  `json:"size"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	assert.Equal(t, hasher.HashBytes(env.content), out.Digest)
	assert.Equal(t, int64(len(env.content)), out.Size)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/hash", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/hash", map[string]string{"path": env.file + ".x"}).Code)
}
