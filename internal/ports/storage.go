package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// Reference is what GetObject accepts later. For key-addressed stores it
	// is the object key; for gdrive it is the Drive fileId.
	Reference string
	Size      int64
}

// StorageProvider is the durable storage contract used by storage delivery
// and by relayctl (s3, minio, localfs, gdrive).
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, reference string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, reference string) error
}
