package storage

import (
	"context"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket           string
	KeyPrefix        string
	ProgressCallback func(done, total int64)
}

// Uploader copies a finished download to remote object storage.
type Uploader interface {
	UploadPath(ctx context.Context, localPath string, opts UploadOptions) (string, error)
}

// Service is the full object storage surface.
type Service interface {
	Uploader
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	PresignURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
