package store

import (
	"fmt"

	"github.com/soloap/soloap/util"
)

// FromConfig selects the backend named by OBJECT_STORE_TYPE (§6). "local"
// is the zero-dependency default; "s3" wires the minio client against any
// S3-compatible endpoint (AWS, MinIO, Backblaze B2, ...).
func FromConfig(conf *util.Config) (Backend, error) {
	switch conf.ObjectStoreType {
	case "", "local":
		return NewLocalBackend(conf.ObjectStoreLocalPath, conf.ObjectStorePublicURL), nil
	case "s3":
		if conf.S3Bucket == "" || conf.S3Endpoint == "" {
			return nil, fmt.Errorf("store: OBJECT_STORE_S3_BUCKET and OBJECT_STORE_S3_ENDPOINT are required for OBJECT_STORE_TYPE=s3")
		}
		return NewS3Backend(S3Config{
			Endpoint:        conf.S3Endpoint,
			Region:          conf.S3Region,
			Bucket:          conf.S3Bucket,
			AccessKeyID:     conf.S3AccessKeyID,
			SecretAccessKey: conf.S3SecretAccessKey,
			UseSSL:          conf.S3UseSSL,
			PublicURL:       conf.ObjectStorePublicURL,
		})
	default:
		return nil, fmt.Errorf("store: unknown OBJECT_STORE_TYPE %q", conf.ObjectStoreType)
	}
}
