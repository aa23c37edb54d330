package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3API часть клиента S3, нужная транспорту
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config параметры промежуточного бакета
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // Пустой для AWS, адрес для S3-совместимых хранилищ
	AccessKey string
	SecretKey string
}

// NewS3Client создает клиент S3 из конфигурации
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Transport складывает чанки в бакет как отдельные объекты {prefix}/{id}/{index}
type S3Transport struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Transport создает транспорт поверх клиента S3
func NewS3Transport(client S3API, bucket, prefix string) *S3Transport {
	return &S3Transport{client: client, bucket: bucket, prefix: prefix}
}

// RegisterModelMeta назначает идентификатор передачи и сохраняет метаданные в meta.json
func (t *S3Transport) RegisterModelMeta(ctx context.Context, meta ModelMeta) (string, error) {
	id := uuid.NewString()

	body, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	if err := t.put(ctx, t.key(id, "meta.json"), "application/json", body); err != nil {
		return "", fmt.Errorf("failed to store model meta: %w", err)
	}
	return id, nil
}

// UploadChunk сохраняет чанк как объект
func (t *S3Transport) UploadChunk(ctx context.Context, transferID, chunkIndex string, data []byte) error {
	if err := t.put(ctx, t.key(transferID, chunkIndex), "application/octet-stream", data); err != nil {
		return fmt.Errorf("failed to upload chunk %s: %w", chunkIndex, err)
	}
	return nil
}

func (t *S3Transport) key(transferID, name string) string {
	return path.Join(t.prefix, transferID, name)
}

func (t *S3Transport) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	return err
}
