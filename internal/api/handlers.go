package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/exp/maps"

	"github.com/Gammanik/model-uploader/internal/chunkplan"
	"github.com/Gammanik/model-uploader/internal/hasher"
	"github.com/Gammanik/model-uploader/internal/logger"
	"github.com/Gammanik/model-uploader/internal/metastore"
	"github.com/Gammanik/model-uploader/internal/storage"
	"github.com/Gammanik/model-uploader/internal/upload"
)

var log = logger.GetLogger("api")

// UploadHandler обрабатывает запросы на загрузку моделей
type UploadHandler struct {
	Store         metastore.MetaStore
	Backend       storage.Backend
	Orchestrator  *upload.Orchestrator
	Hasher        *hasher.Hasher
	ChunkSize     int64         // Размер чанка по умолчанию
	ChunkFloor    int64         // Нижняя граница размера чанка
	ProgressDelay time.Duration // Период сохранения прогресса в журнал

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewUploadHandler создает обработчик с нижней границей chunkplan.MinChunkSize
func NewUploadHandler(store metastore.MetaStore, backend storage.Backend, orch *upload.Orchestrator, h *hasher.Hasher, chunkSize int64) *UploadHandler {
	return &UploadHandler{
		Store:         store,
		Backend:       backend,
		Orchestrator:  orch,
		Hasher:        h,
		ChunkSize:     chunkSize,
		ChunkFloor:    chunkplan.MinChunkSize,
		ProgressDelay: 500 * time.Millisecond,
	}
}

// Router регистрирует обработчики HTTP запросов
func (h *UploadHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/uploads", h.Upload).Methods("POST")
	router.HandleFunc("/uploads", h.List).Methods("GET")
	router.HandleFunc("/uploads/active", h.Active).Methods("GET")
	router.HandleFunc("/uploads/{id}", h.Get).Methods("GET")
	router.HandleFunc("/uploads/{id}", h.Cancel).Methods("DELETE")
	router.HandleFunc("/hash", h.Hash).Methods("POST")
	return router
}

type uploadRequest struct {
	Path         string               `json:"path"`
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Description  string               `json:"description"`
	ModelFormat  string               `json:"modelFormat"`
	ModelGroupID string               `json:"modelGroupId"`
	FunctionName string               `json:"functionName"`
	ModelConfig  *storage.ModelConfig `json:"modelConfig"`
	ModelID      string               `json:"modelId"`
	ChunkSize    int64                `json:"chunkSize"`
}

// Upload запускает загрузку файла модели в фоне
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	if req.Name == "" && req.ModelID == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	if req.ChunkSize > chunkplan.MaxChunkSize {
		http.Error(w, "chunk size too large", http.StatusBadRequest)
		return
	}

	info, err := os.Stat(req.Path)
	if err != nil || info.IsDir() {
		http.Error(w, "file not found", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	rec := metastore.TransferRecord{
		ID:       id,
		ModelID:  req.ModelID,
		Filename: req.Path,
		Size:     info.Size(),
		Status:   metastore.StatusHashing,
	}
	if err := h.Store.InitTransfer(rec); err != nil {
		http.Error(w, "failed to init transfer", http.StatusInternalServerError)
		log.Errorf("Failed to init transfer: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if h.running == nil {
		h.running = make(map[string]context.CancelFunc)
	}
	h.running[id] = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(ctx, id, req)

	log.WithField("transfer", id).Infof("Upload of %s accepted (%d bytes)", req.Path, info.Size())
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// run хеширует файл, регистрирует модель и передает чанки
func (h *UploadHandler) run(ctx context.Context, id string, req uploadRequest) {
	defer h.finish(id)
	entry := log.WithField("transfer", id)

	src, closeFn, err := hasher.OpenFile(req.Path)
	if err != nil {
		h.fail(id, err)
		return
	}
	defer closeFn()

	digest, err := h.Hasher.Hash(ctx, src)
	if err != nil {
		h.fail(id, err)
		return
	}
	entry.Infof("Content digest %s", digest)

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = h.ChunkSize
	}

	modelID := req.ModelID
	if modelID == "" {
		effective := chunkplan.EffectiveChunkSize(chunkSize, h.ChunkFloor)
		modelID, err = h.Backend.RegisterModelMeta(ctx, storage.ModelMeta{
			Name:         req.Name,
			Version:      req.Version,
			Description:  req.Description,
			ModelFormat:  req.ModelFormat,
			ModelGroupID: req.ModelGroupID,
			ContentHash:  digest,
			ContentSize:  src.Size(),
			TotalChunks:  chunkplan.Count(src.Size(), effective),
			FunctionName: req.FunctionName,
			ModelConfig:  req.ModelConfig,
		})
		if err != nil {
			h.fail(id, err)
			return
		}
	}

	job := upload.NewJobWithFloor(modelID, src.Size(), chunkSize, h.ChunkFloor)
	if err := h.Store.SetModel(id, modelID, digest, job.ChunkSize, len(job.Chunks)); err != nil {
		entry.Errorf("Failed to save model info: %v", err)
	}

	// progressMu упорядочивает отложенные записи прогресса с окончательной
	var progressMu sync.Mutex
	closed := false
	persist := func(n int) {
		if err := h.Store.SaveProgress(id, n); err != nil {
			entry.Warnf("Failed to save progress: %v", err)
		}
	}

	save := debounce.New(h.ProgressDelay)
	acked := 0
	handle := h.Orchestrator.Start(ctx, job, src, h.Backend, upload.Callbacks{
		OnUpdate: func(p upload.Progress) {
			entry.Debugf("Chunk %d/%d uploaded", p.Current, p.Total)
			acked = p.Current
			save(func() {
				progressMu.Lock()
				defer progressMu.Unlock()
				if !closed {
					persist(p.Current)
				}
			})
		},
		OnComplete: func(transferID string) {
			entry.Infof("Model %s uploaded in %d chunks", transferID, len(job.Chunks))
		},
	})

	err = handle.Wait()
	// Отложенное сохранение заменяем окончательным, уже начатое дожидаемся
	save(func() {})
	progressMu.Lock()
	closed = true
	if acked > 0 {
		persist(acked)
	}
	progressMu.Unlock()
	if err != nil {
		h.fail(id, err)
		return
	}

	if err := h.Store.MarkComplete(id); err != nil {
		entry.Errorf("Failed to mark transfer complete: %v", err)
	}
}

func (h *UploadHandler) fail(id string, err error) {
	log.WithField("transfer", id).Errorf("Upload failed: %v", err)
	if err := h.Store.MarkFailed(id, err.Error()); err != nil {
		log.WithField("transfer", id).Errorf("Failed to mark transfer failed: %v", err)
	}
}

func (h *UploadHandler) finish(id string) {
	h.mu.Lock()
	if cancel, ok := h.running[id]; ok {
		cancel()
		delete(h.running, id)
	}
	h.mu.Unlock()
	h.wg.Done()
}

// List возвращает журнал передач
func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListTransfers()
	if err != nil {
		http.Error(w, "failed to list transfers", http.StatusInternalServerError)
		log.Errorf("Failed to list transfers: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Get возвращает запись о передаче
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetTransfer(mux.Vars(r)["id"])
	if errors.Is(err, metastore.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to read transfer", http.StatusInternalServerError)
		log.Errorf("Failed to read transfer: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Cancel прерывает активную передачу
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	h.mu.Lock()
	cancel, ok := h.running[id]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "transfer is not active", http.StatusNotFound)
		return
	}

	cancel()
	log.WithField("transfer", id).Info("Upload canceled by request")
	w.WriteHeader(http.StatusAccepted)
}

// Active сообщает, есть ли незавершенные передачи.
// Интерфейс опрашивает его перед закрытием страницы.
func (h *UploadHandler) Active(w http.ResponseWriter, r *http.Request) {
	registry := h.Orchestrator.Registry()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":    registry.Count(),
		"transfers": registry.Active(),
		"warn":      !registry.IsEmpty(),
	})
}

type hashRequest struct {
	Path string `json:"path"`
}

// Hash вычисляет дайджест файла
func (h *UploadHandler) Hash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}

	src, closeFn, err := hasher.OpenFile(req.Path)
	if err != nil {
		http.Error(w, "file not found", http.StatusBadRequest)
		return
	}
	defer closeFn()

	digest, err := h.Hasher.Hash(r.Context(), src)
	if err != nil {
		http.Error(w, "hashing failed", http.StatusInternalServerError)
		log.Errorf("Failed to hash %s: %v", req.Path, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"digest": digest,
		"size":   src.Size(),
	})
}

// Wait ожидает завершения всех фоновых загрузок
func (h *UploadHandler) Wait() {
	h.wg.Wait()
}

// Shutdown отменяет фоновые загрузки и ждет их завершения
func (h *UploadHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	cancels := maps.Values(h.running)
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Failed to write response: %v", err)
	}
}
