package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/docingest/docingest/pkg/logger"
)

// MinioStorage implements Storage on a MinIO (or any S3-compatible) server.
type MinioStorage struct {
	client *minio.Client
	bucket string
	logger logger.Logger
}

// NewMinioStorage connects and ensures the bucket exists.
func NewMinioStorage(cfg Config, log logger.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(context.Background(), cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		err = client.MakeBucket(context.Background(), cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStorage{client: client, bucket: cfg.Bucket, logger: log}, nil
}

func (m *MinioStorage) Upload(ctx context.Context, data []byte, key, contentType string) (UploadInfo, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		m.logger.Error("Failed to upload object",
			logger.String("bucket", m.bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return UploadInfo{}, fmt.Errorf("upload object: %w", err)
	}
	return UploadInfo{
		Key: key,
		URL: fmt.Sprintf("%s/%s/%s", m.client.EndpointURL(), m.bucket, key),
	}, nil
}

func (m *MinioStorage) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces at read time.
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		m.logger.Error("Failed to download object",
			logger.String("bucket", m.bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		m.logger.Error("Failed to delete object",
			logger.String("bucket", m.bucket),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (m *MinioStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}
