package chunkplan

import "math"

const (
	// MinChunkSize минимальный размер чанка для передачи (10 MB, десятичные)
	MinChunkSize int64 = 10 * 1000 * 1000
	// MaxChunkSize верхняя граница размера чанка, который принимает API.
	// Чанк целиком держится в памяти.
	MaxChunkSize int64 = 4 << 30
)

// Chunk описывает диапазон байт [Start, End) файла
type Chunk struct {
	Index int   // Порядковый номер чанка, с нуля
	Start int64 // Смещение первого байта
	End   int64 // Смещение после последнего байта
}

// Len возвращает размер чанка в байтах
func (c Chunk) Len() int64 {
	return c.End - c.Start
}

// EffectiveChunkSize применяет нижнюю границу к запрошенному размеру
func EffectiveChunkSize(requested, min int64) int64 {
	size := requested
	if size < min {
		size = min
	}
	if size <= 0 {
		size = 1
	}
	return size
}

// Count возвращает количество чанков размера chunkSize для файла размера totalSize
func Count(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	n := totalSize / chunkSize
	if totalSize%chunkSize != 0 {
		n++
	}
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// Plan разбивает файл на последовательные чанки.
// Пустой файл дает пустой план.
func Plan(totalSize, requested, min int64) []Chunk {
	size := EffectiveChunkSize(requested, min)
	count := Count(totalSize, size)

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := size * int64(i)
		end := totalSize
		if totalSize-start > size {
			end = start + size
		}
		chunks = append(chunks, Chunk{Index: i, Start: start, End: end})
	}
	return chunks
}
