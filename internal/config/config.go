package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gammanik/model-uploader/internal/chunkplan"
	"github.com/Gammanik/model-uploader/internal/hasher"
	"github.com/Gammanik/model-uploader/internal/storage"
)

// Виды транспорта чанков
const (
	TransportHTTP = "http"
	TransportS3   = "s3"
)

// Config настройки сервиса загрузки моделей
type Config struct {
	Listen         string // Адрес HTTP API
	MetaDBPath     string // Путь к журналу передач
	Transport      string // http или s3
	Backend        storage.HTTPConfig
	S3             storage.S3Config
	ChunkSize      int64 // Запрошенный размер чанка
	HashWindow     int64 // Окно чтения при хешировании
	LogLevel       string
	AllowedOrigins []string      // Источники, которым разрешен CORS
	RequestTimeout time.Duration // Таймаут одного запроса к бэкенду
}

// Default возвращает настройки по умолчанию
func Default() Config {
	return Config{
		Listen:         ":8080",
		MetaDBPath:     "./data/transfers.db",
		Transport:      TransportHTTP,
		Backend:        storage.HTTPConfig{BaseURL: "http://localhost:9200"},
		S3:             storage.S3Config{Region: "us-east-1", Prefix: "model-chunks"},
		ChunkSize:      chunkplan.MinChunkSize,
		HashWindow:     hasher.DefaultWindowSize,
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		RequestTimeout: 5 * time.Minute,
	}
}

// LoadEnv переопределяет настройки переменными окружения MLUP_*
func (c *Config) LoadEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	str("MLUP_LISTEN", &c.Listen)
	str("MLUP_META_DB", &c.MetaDBPath)
	str("MLUP_TRANSPORT", &c.Transport)
	str("MLUP_BACKEND_URL", &c.Backend.BaseURL)
	str("MLUP_BACKEND_USER", &c.Backend.Username)
	str("MLUP_BACKEND_PASSWORD", &c.Backend.Password)
	str("MLUP_S3_BUCKET", &c.S3.Bucket)
	str("MLUP_S3_PREFIX", &c.S3.Prefix)
	str("MLUP_S3_REGION", &c.S3.Region)
	str("MLUP_S3_ENDPOINT", &c.S3.Endpoint)
	str("MLUP_S3_ACCESS_KEY", &c.S3.AccessKey)
	str("MLUP_S3_SECRET_KEY", &c.S3.SecretKey)
	str("MLUP_LOG_LEVEL", &c.LogLevel)

	if v := getenv("MLUP_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	for name, dst := range map[string]*int64{
		"MLUP_CHUNK_SIZE":  &c.ChunkSize,
		"MLUP_HASH_WINDOW": &c.HashWindow,
	} {
		if v := getenv(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := getenv("MLUP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MLUP_TIMEOUT: %w", err)
		}
		c.RequestTimeout = d
	}

	return nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportHTTP:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend url is required for %s transport", TransportHTTP)
		}
	case TransportS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required for %s transport", TransportS3)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkSize > chunkplan.MaxChunkSize {
		return fmt.Errorf("chunk size must not exceed %d, got %d", chunkplan.MaxChunkSize, c.ChunkSize)
	}
	if c.HashWindow <= 0 {
		return fmt.Errorf("hash window must be positive, got %d", c.HashWindow)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	return nil
}

// splitList разбирает список через запятую, пропуская пустые элементы
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
