package s3

import "context"

// Storage is the part of an object store the offsite mirror needs.
type Storage interface {
	// StatObject returns the object size and whether it exists.
	StatObject(ctx context.Context, key string) (int64, bool, error)
	// PutFile uploads a local file, in parts when it is large.
	PutFile(ctx context.Context, key, path string) error
}

// CompletedPart is one uploaded part of a multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}
