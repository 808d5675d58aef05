// Package store implements the blob object store the spec treats as an
// external collaborator: a put(key, bytes) -> (key, kind, public_url) /
// delete(key, kind) contract, recorded per-row on LocalFile and
// selected once at startup from util.Config (OBJECT_STORE_TYPE).
//
// No object-store library exists in the teacher's own dependency graph,
// so the local-filesystem backend is plain stdlib (justified in
// DESIGN.md); the S3 backend is grounded on kaze-hk-gotosocial's
// github.com/minio/minio-go/v7 client, the one S3-compatible SDK present
// anywhere in the retrieval pack.
package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/soloap/soloap/idgen"
)

// Kind tags which backend produced a key, so Delete can dispatch without
// re-reading Setting.
const (
	KindLocal = "local"
	KindS3    = "s3"
)

// Backend is the contract every object-store implementation satisfies.
type Backend interface {
	// Put stores data under a freshly generated key and returns that key,
	// the backend kind, and a URL the object is publicly reachable at.
	Put(ctx context.Context, data []byte, mediaType string) (key, kind, publicURL string, err error)
	Delete(ctx context.Context, key, kind string) error
}

// LocalBackend stores blobs as files under a base directory and serves
// them back through a configured public base URL (e.g. the HTTP server's
// own /static/files/ route).
type LocalBackend struct {
	BaseDir   string
	PublicURL string // e.g. "https://example.com/static/files"
}

func NewLocalBackend(baseDir, publicURL string) *LocalBackend {
	return &LocalBackend{BaseDir: baseDir, PublicURL: publicURL}
}

func (b *LocalBackend) Put(ctx context.Context, data []byte, mediaType string) (string, string, string, error) {
	if err := os.MkdirAll(b.BaseDir, 0o755); err != nil {
		return "", "", "", fmt.Errorf("store: mkdir %s: %w", b.BaseDir, err)
	}

	key := idgen.New().String() + extensionFor(mediaType)
	path := filepath.Join(b.BaseDir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", "", fmt.Errorf("store: write %s: %w", path, err)
	}

	return key, KindLocal, b.PublicURL + "/" + key, nil
}

func (b *LocalBackend) Delete(ctx context.Context, key, kind string) error {
	if kind != KindLocal {
		return fmt.Errorf("store: local backend cannot delete kind %q", kind)
	}
	path := filepath.Join(b.BaseDir, key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ""
	}
}

// ReadAll is a small helper so callers don't need to import io directly
// just to drain an upload into a []byte before Put.
func ReadAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
