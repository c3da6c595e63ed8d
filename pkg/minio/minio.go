package minio

import (
	"bytes"
	"context"

	"bizops-incentives/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient, NewObjectStore))

// ObjectStore is the narrow upload surface services depend on.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// registerClient returns a nil client when MINIO.ENDPOINT is empty; the
// object store then reports uploads as unavailable.
func registerClient(c *config.Config) (*minio.Client, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Info("MinIO endpoint not configured, object uploads disabled")
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.Error(err))
		return nil, err
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Error("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.String("bucket", c.Minio.BucketName))
	return client, nil
}

type objectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(client *minio.Client, c *config.Config) ObjectStore {
	if client == nil {
		return nil
	}
	return &objectStore{client: client, bucket: c.Minio.BucketName}
}

func (s *objectStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return info.Bucket + "/" + info.Key, nil
}
