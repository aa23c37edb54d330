package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket      string
	key         string
	contentType string
	length      int64
	body        []byte
}

type fakeS3 struct {
	calls []putCall
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(params.Body)
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(params.Bucket),
		key:         aws.ToString(params.Key),
		contentType: aws.ToString(params.ContentType),
		length:      aws.ToInt64(params.ContentLength),
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

func TestS3TransportUploadChunk(t *testing.T) {
	client := &fakeS3{}
	transport := NewS3Transport(client, "models", "staging")

	require.NoError(t, transport.UploadChunk(context.Background(), "m-1", "2", []byte("chunk")))

	require.Len(t, client.calls, 1)
	assert.Equal(t, putCall{
		bucket:      "models",
		key:         "staging/m-1/2",
		contentType: "application/octet-stream",
		length:      5,
		body:        []byte("chunk"),
	}, client.calls[0])
}

func TestS3TransportRegisterModelMeta(t *testing.T) {
	client := &fakeS3{}
	transport := NewS3Transport(client, "models", "")

	id, err := transport.RegisterModelMeta(context.Background(), ModelMeta{Name: "bert", ContentHash: "abc", TotalChunks: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, client.calls, 1)
	assert.Equal(t, id+"/meta.json", client.calls[0].key)

	var meta ModelMeta
	require.NoError(t, json.Unmarshal(client.calls[0].body, &meta))
	assert.Equal(t, "abc", meta.ContentHash)
}

func TestS3TransportError(t *testing.T) {
	denied := errors.New("access denied")
	transport := NewS3Transport(&fakeS3{err: denied}, "models", "p")

	err := transport.UploadChunk(context.Background(), "m-1", "0", []byte("x"))
	assert.ErrorIs(t, err, denied)
}
