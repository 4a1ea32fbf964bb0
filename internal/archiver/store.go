package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"paystream/internal/connmgr"
)

// ObjectStore is the archive tier as the archiver sees it. The
// production implementation is MinIO behind the connection manager's
// retry policy; tests substitute an in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// MinioStore uploads through ConnectionManager so every object-store
// call inherits the bounded retry policy and circuit breaker.
type MinioStore struct {
	mgr *connmgr.Manager
}

func NewMinioStore(mgr *connmgr.Manager) *MinioStore {
	return &MinioStore{mgr: mgr}
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte) error {
	return s.mgr.ExecuteObjectWithRetry(ctx, "archive_upload", func(ctx context.Context) error {
		_, err := s.mgr.Objects().PutObject(ctx, s.mgr.Bucket(), key,
			bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/octet-stream"},
		)
		return err
	})
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.mgr.ExecuteObjectWithRetry(ctx, "archive_download", func(ctx context.Context) error {
		obj, err := s.mgr.Objects().GetObject(ctx, s.mgr.Bucket(), key, minio.GetObjectOptions{})
		if err != nil {
			return err
		}
		defer obj.Close()

		data, err = io.ReadAll(obj)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return data, nil
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.mgr.ExecuteObjectWithRetry(ctx, "archive_list", func(ctx context.Context) error {
		keys = keys[:0]
		for obj := range s.mgr.Objects().ListObjects(ctx, s.mgr.Bucket(), minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return obj.Err
			}
			keys = append(keys, obj.Key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}
