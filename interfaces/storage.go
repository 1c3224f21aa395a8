package interfaces

import "context"

// ArchiveStorage persists raw message sources to object storage.
type ArchiveStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
