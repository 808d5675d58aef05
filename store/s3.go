package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/soloap/soloap/idgen"
)

// S3Backend stores blobs in an S3-compatible bucket. Grounded on
// kaze-hk-gotosocial's minio-go client, the only S3 SDK anywhere in the
// retrieval pack.
type S3Backend struct {
	client    *minio.Client
	bucket    string
	publicURL string // base URL objects are served from, e.g. a CDN or bucket website endpoint
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PublicURL       string
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("store: new minio client: %w", err)
	}

	return &S3Backend{client: client, bucket: cfg.Bucket, publicURL: cfg.PublicURL}, nil
}

func (b *S3Backend) Put(ctx context.Context, data []byte, mediaType string) (string, string, string, error) {
	key := idgen.New().String() + extensionFor(mediaType)

	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mediaType,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("store: put object %s: %w", key, err)
	}

	return key, KindS3, b.publicURL + "/" + key, nil
}

func (b *S3Backend) Delete(ctx context.Context, key, kind string) error {
	if kind != KindS3 {
		return fmt.Errorf("store: s3 backend cannot delete kind %q", kind)
	}
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("store: remove object %s: %w", key, err)
	}
	return nil
}
