// internal/hasher/hash.go
package hasher

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	sha256 "github.com/minio/sha256-simd"
)

// DefaultWindowSize размер окна чтения по умолчанию (64 MiB)
const DefaultWindowSize int64 = 64 << 20

// Source источник данных с произвольным доступом и известной длиной.
// Подходят *io.SectionReader и *bytes.Reader.
type Source interface {
	io.ReaderAt
	Size() int64
}

// ReadError ошибка чтения диапазона байт из источника
type ReadError struct {
	Offset int64
	Length int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read [%d, %d): %v", e.Offset, e.Offset+e.Length, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Hasher вычисляет SHA-256 содержимого, читая его окнами фиксированного размера
type Hasher struct {
	window int64
}

// New создает Hasher с указанным размером окна.
// Неположительный размер заменяется на DefaultWindowSize.
func New(window int64) *Hasher {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &Hasher{window: window}
}

// WindowSize возвращает размер окна чтения
func (h *Hasher) WindowSize() int64 {
	return h.window
}

// Hash вычисляет hex-дайджест всего источника.
// В памяти одновременно находится не больше одного окна.
func (h *Hasher) Hash(ctx context.Context, src Source) (string, error) {
	size := src.Size()
	state := sha256.New()

	bufSize := h.window
	if size < bufSize {
		bufSize = size
	}
	buf := make([]byte, bufSize)

	windows := size / h.window
	for i := int64(0); i <= windows; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		start := h.window * i
		end := start + h.window
		if end > size {
			end = size
		}
		// Последнее окно пустое, если размер кратен окну
		if end <= start {
			continue
		}

		part, err := ReadRange(src, buf, start, end)
		if err != nil {
			return "", err
		}
		state.Write(part)
	}

	return hex.EncodeToString(state.Sum(nil)), nil
}

// HashBytes вычисляет дайджест небольшого буфера целиком
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OpenFile открывает файл как Source. Вызывающий обязан вызвать close.
func OpenFile(path string) (Source, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is a directory", path)
	}

	return io.NewSectionReader(f, 0, info.Size()), f.Close, nil
}

// readFull читает ровно len(p) байт по смещению off.
// io.EOF вместе с полностью заполненным буфером не считается ошибкой.
func readFull(src io.ReaderAt, p []byte, off int64) error {
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// ReadRange читает диапазон [start, end) источника в buf и возвращает заполненную часть
func ReadRange(src io.ReaderAt, buf []byte, start, end int64) ([]byte, error) {
	part := buf[:end-start]
	if err := readFull(src, part, start); err != nil {
		return nil, &ReadError{Offset: start, Length: end - start, Err: err}
	}
	return part, nil
}
