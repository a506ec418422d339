package minio

import (
	"bytes"
	"context"
	"fmt"

	"wecodesec-tools/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("minio", fx.Provide(NewArchive))

// Archive stores artifact documents as JSON objects in one bucket.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive returns nil when MINIO.ENDPOINT is empty.
func NewArchive(c *config.Config) (*Archive, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Info("MINIO.ENDPOINT not set, artifact archive disabled")
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	a := &Archive{client: client, bucket: c.Minio.BucketName}
	if err := a.ensureBucket(context.Background()); err != nil {
		// The archive is best-effort; a missing bucket shows up on every put.
		zap.L().Warn("failed to ensure artifact bucket", zap.String("bucket", a.bucket), zap.Error(err))
	}

	zap.L().Info("MinIO archive initialized", zap.String("endpoint", c.Minio.Endpoint), zap.String("bucket", a.bucket))
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
}

func (a *Archive) Archive(ctx context.Context, key string, payload []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
