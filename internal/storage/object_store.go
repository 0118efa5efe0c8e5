package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore holds uploaded audio and synthesized replies. Keys are slash
// separated relative paths such as "uploads/<task id>.ogg".
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// LocalPath returns a filesystem path holding the object's bytes. The
	// returned cleanup func releases any temporary copy and is never nil on
	// success.
	LocalPath(ctx context.Context, key string) (string, func(), error)

	DeleteObject(ctx context.Context, key string) error
}

const (
	UploadsPrefix = "uploads"
	ResultsPrefix = "results"
)
