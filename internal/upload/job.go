package upload

import (
	"context"
	"sync/atomic"

	"github.com/Gammanik/model-uploader/internal/chunkplan"
)

// Status состояние передачи
type Status int32

const (
	StatusPending Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal сообщает, что передача завершена успехом или ошибкой
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job передача одного файла
type Job struct {
	ID        string            // Идентификатор объекта на бэкенде
	TotalSize int64             // Размер файла
	ChunkSize int64             // Фактический размер чанка после нижней границы
	Chunks    []chunkplan.Chunk // План передачи

	status atomic.Int32
}

// NewJob создает передачу с нижней границей chunkplan.MinChunkSize
func NewJob(id string, totalSize, requestedChunkSize int64) *Job {
	return NewJobWithFloor(id, totalSize, requestedChunkSize, chunkplan.MinChunkSize)
}

// NewJobWithFloor создает передачу с произвольной нижней границей размера чанка
func NewJobWithFloor(id string, totalSize, requestedChunkSize, minChunkSize int64) *Job {
	return &Job{
		ID:        id,
		TotalSize: totalSize,
		ChunkSize: chunkplan.EffectiveChunkSize(requestedChunkSize, minChunkSize),
		Chunks:    chunkplan.Plan(totalSize, requestedChunkSize, minChunkSize),
	}
}

// Status возвращает текущее состояние передачи
func (j *Job) Status() Status {
	return Status(j.status.Load())
}

func (j *Job) transition(from, to Status) bool {
	return j.status.CompareAndSwap(int32(from), int32(to))
}

func (j *Job) setStatus(s Status) {
	j.status.Store(int32(s))
}

// Progress количество подтвержденных чанков
type Progress struct {
	Current int `json:"current"` // Подтверждено чанков, с единицы
	Total   int `json:"total"`   // Всего чанков
}

// Callbacks уведомления о ходе передачи. Все поля необязательны.
// Вызываются из горутины передачи строго по порядку.
type Callbacks struct {
	OnUpdate   func(p Progress)
	OnError    func(err error)
	OnComplete func(id string)
}

// Transport отправляет один чанк на бэкенд.
// chunkIndex передается строкой с номером чанка, с нуля.
// Реализация не должна сохранять data после возврата.
type Transport interface {
	UploadChunk(ctx context.Context, transferID, chunkIndex string, data []byte) error
}

// TransportFunc адаптер функции к Transport
type TransportFunc func(ctx context.Context, transferID, chunkIndex string, data []byte) error

func (f TransportFunc) UploadChunk(ctx context.Context, transferID, chunkIndex string, data []byte) error {
	return f(ctx, transferID, chunkIndex, data)
}
