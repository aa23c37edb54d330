package upload

import (
	"errors"
	"fmt"
)

// ErrJobStarted повторный запуск уже запущенной передачи
var ErrJobStarted = errors.New("upload: job already started")

// TransferError ошибка передачи с сохраненной причиной
type TransferError struct {
	TransferID string
	ChunkIndex int // -1, если ошибка не относится к конкретному чанку
	Err        error
}

func (e *TransferError) Error() string {
	if e.ChunkIndex < 0 {
		return fmt.Sprintf("transfer %s failed: %v", e.TransferID, e.Err)
	}
	return fmt.Sprintf("transfer %s failed at chunk %d: %v", e.TransferID, e.ChunkIndex, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
