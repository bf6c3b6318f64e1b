package storage

import (
	"context"
	"strings"

	"golang.org/x/xerrors"
)

type Storage interface {
	// Put stores data under key and returns the URL it can be read back from.
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get reads the data behind a URL returned by Put.
	Get(ctx context.Context, url string) ([]byte, error)
}

const (
	BackendFile = "file"
	BackendS3   = "s3"
)

type Config struct {
	Backend string
	File    FileConfig
	S3      S3Config
}

func New(ctx context.Context, c Config) (Storage, error) {
	switch c.Backend {
	case BackendFile, "":
		return NewFileStorage(ctx, c.File)
	case BackendS3:
		return NewS3Storage(ctx, c.S3)
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", c.Backend)
	}
}

// Fetch reads url from s3 when it is an s3:// URL and from the local file
// system otherwise, so inputs may live on either side regardless of where
// results are written.
func Fetch(ctx context.Context, s Storage, url string) ([]byte, error) {
	if strings.HasPrefix(url, "s3://") {
		if _, ok := s.(*s3Storage); !ok {
			bucket, _, _ := strings.Cut(strings.TrimPrefix(url, "s3://"), "/")
			remote, err := NewS3Storage(ctx, S3Config{Bucket: bucket})
			if err != nil {
				return nil, err
			}
			return remote.Get(ctx, url)
		}
		return s.Get(ctx, url)
	}

	if _, ok := s.(*fileStorage); ok {
		return s.Get(ctx, url)
	}
	local, err := NewFileStorage(ctx, FileConfig{})
	if err != nil {
		return nil, err
	}
	return local.Get(ctx, url)
}
