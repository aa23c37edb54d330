package metastore

import (
	"errors"
	"time"
)

// ErrNotFound запись о передаче не найдена
var ErrNotFound = errors.New("transfer not found")

// Статусы записи о передаче
const (
	StatusHashing    = "hashing"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TransferRecord содержит сведения о загрузке модели
type TransferRecord struct {
	ID          string    `json:"id"`          // Локальный идентификатор записи
	ModelID     string    `json:"modelId"`     // Идентификатор модели на бэкенде
	Filename    string    `json:"filename"`    // Путь к файлу
	Size        int64     `json:"size"`        // Размер файла
	ChunkSize   int64     `json:"chunkSize"`   // Фактический размер чанка
	TotalChunks int       `json:"totalChunks"` // Общее количество чанков
	Acked       int       `json:"acked"`       // Подтверждено чанков
	Digest      string    `json:"digest"`      // SHA-256 содержимого
	Status      string    `json:"status"`      // Состояние передачи
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MetaStore интерфейс журнала передач
type MetaStore interface {
	// InitTransfer создает запись о новой передаче
	InitTransfer(rec TransferRecord) error

	// SetModel сохраняет дайджест и план передачи после регистрации модели
	SetModel(id, modelID, digest string, chunkSize int64, totalChunks int) error

	// SaveProgress обновляет количество подтвержденных чанков. Значение не уменьшается.
	SaveProgress(id string, acked int) error

	// MarkComplete помечает передачу как завершенную
	MarkComplete(id string) error

	// MarkFailed помечает передачу как неудачную
	MarkFailed(id string, reason string) error

	// GetTransfer возвращает запись о передаче
	GetTransfer(id string) (*TransferRecord, error)

	// ListTransfers возвращает все записи, новые первыми
	ListTransfers() ([]TransferRecord, error)

	// Close закрывает хранилище
	Close() error
}
