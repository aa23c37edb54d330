// internal/upload/orchestrator.go
package upload

import (
	"context"
	"io"
	"strconv"

	"github.com/Gammanik/model-uploader/internal/hasher"
)

// Orchestrator выполняет передачи файлов по чанкам.
// Внутри одной передачи чанки отправляются строго последовательно,
// разные передачи выполняются независимо друг от друга.
type Orchestrator struct {
	registry *Registry
}

// NewOrchestrator создает оркестратор, ведущий учет передач в registry
func NewOrchestrator(registry *Registry) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Orchestrator{registry: registry}
}

// Registry возвращает реестр активных передач
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Handle управляет запущенной передачей
type Handle struct {
	job    *Job
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Job возвращает передачу
func (h *Handle) Job() *Job {
	return h.job
}

// Cancel прерывает передачу. Текущий чанк получает отмененный контекст,
// следующие не отправляются.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done закрывается после перехода в конечное состояние и вызова колбэков
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait ожидает завершения передачи
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Err возвращает ошибку завершенной передачи или nil, пока она выполняется
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Start запускает передачу job в отдельной горутине и сразу возвращает управление
func (o *Orchestrator) Start(ctx context.Context, job *Job, src io.ReaderAt, transport Transport, cb Callbacks) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{job: job, cancel: cancel, done: make(chan struct{})}

	if !job.transition(StatusPending, StatusInProgress) {
		h.err = &TransferError{TransferID: job.ID, ChunkIndex: -1, Err: ErrJobStarted}
		cancel()
		if cb.OnError != nil {
			cb.OnError(h.err)
		}
		close(h.done)
		return h
	}

	go o.run(ctx, h, src, transport, cb)
	return h
}

func (o *Orchestrator) run(ctx context.Context, h *Handle, src io.ReaderAt, transport Transport, cb Callbacks) {
	defer close(h.done)
	defer h.cancel()

	job := h.job
	total := len(job.Chunks)
	if total > 0 {
		o.registry.Register(job)
	}

	var buf []byte
	for _, c := range job.Chunks {
		if err := ctx.Err(); err != nil {
			o.fail(h, c.Index, err, cb)
			return
		}

		// Один буфер на всю передачу
		if buf == nil {
			size := job.ChunkSize
			if job.TotalSize < size {
				size = job.TotalSize
			}
			buf = make([]byte, size)
		}

		data, err := hasher.ReadRange(src, buf, c.Start, c.End)
		if err != nil {
			o.fail(h, c.Index, err, cb)
			return
		}

		if err := transport.UploadChunk(ctx, job.ID, strconv.Itoa(c.Index), data); err != nil {
			o.fail(h, c.Index, err, cb)
			return
		}

		if cb.OnUpdate != nil {
			cb.OnUpdate(Progress{Current: c.Index + 1, Total: total})
		}
	}

	job.setStatus(StatusCompleted)
	o.registry.Deregister(job)
	if cb.OnComplete != nil {
		cb.OnComplete(job.ID)
	}
}

func (o *Orchestrator) fail(h *Handle, index int, cause error, cb Callbacks) {
	h.err = &TransferError{TransferID: h.job.ID, ChunkIndex: index, Err: cause}
	h.job.setStatus(StatusFailed)
	o.registry.Deregister(h.job)
	if cb.OnError != nil {
		cb.OnError(h.err)
	}
}
