// Package objectstore wraps the MinIO client behind the operations the
// rest of the application needs: collision-safe uploads, downloads,
// deletes, and share links.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/terralens/terralens-api/internal/config"
	"github.com/terralens/terralens-api/internal/platform/logger"
)

// ErrObjectMissing indicates the requested key does not exist in the bucket.
var ErrObjectMissing = errors.New("object does not exist in storage")

// api is the subset of *minio.Client the store uses. Tests substitute a
// fake to exercise the name probing without a live server.
type api interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Store provides access to a single bucket of the object storage backend.
type Store struct {
	client       api
	bucket       string
	shareBaseURL string
}

// New creates a Store from configuration and ensures the configured
// bucket exists.
func New(ctx context.Context, cfg config.MinioConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	s := &Store{
		client:       client,
		bucket:       cfg.Bucket,
		shareBaseURL: strings.TrimRight(cfg.ShareBaseURL, "/"),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
		}
		logger.FromContext(ctx).Info("created storage bucket", "bucket", s.bucket)
	}
	return nil
}

// Ping verifies the storage backend is reachable and the bucket still
// exists. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("object storage unreachable: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q missing", s.bucket)
	}
	return nil
}

// AvailableName probes the bucket for the first unclaimed variant of the
// requested key. The original name is preferred; on collision a counter
// suffix is appended to the stem (photo.tif, photo_1.tif, photo_2.tif, ...)
// until a free name is found. The probe is not atomic with the upload, so
// concurrent writers racing for the same stem can still both claim it;
// callers serialize uploads of a shared stem if that matters.
func (s *Store) AvailableName(ctx context.Context, key string) (string, error) {
	dir, file := path.Split(key)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)

	candidate := key
	for counter := 1; ; counter++ {
		_, err := s.client.StatObject(ctx, s.bucket, candidate, minio.StatObjectOptions{})
		if err != nil {
			if isMissing(err) {
				return candidate, nil
			}
			return "", fmt.Errorf("failed to probe object name %q: %w", candidate, err)
		}
		candidate = dir + fmt.Sprintf("%s_%d%s", stem, counter, ext)
	}
}

// PutResult is the content-addressing metadata reported by an upload.
// The stored key may differ from the requested one when the name probe
// had to append a counter suffix.
type PutResult struct {
	Key  string
	ETag string
	Size int64
}

// Put uploads the reader's content under the first available variant of
// key and returns the key actually stored along with the storage-computed
// checksum.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (PutResult, error) {
	name, err := s.AvailableName(ctx, key)
	if err != nil {
		return PutResult{}, err
	}

	info, err := s.client.PutObject(ctx, s.bucket, name, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to upload object %q: %w", name, err)
	}

	logger.FromContext(ctx).Debug("uploaded object",
		"bucket", s.bucket,
		"key", name,
		"size", info.Size)
	return PutResult{Key: name, ETag: info.ETag, Size: info.Size}, nil
}

// Fetch opens the object for reading. The caller closes the returned reader.
func (s *Store) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %q: %w", key, err)
	}
	return obj, nil
}

// Remove deletes the object. Removing a key that does not exist is not an
// error; storage and database cleanup stay idempotent.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %q: %w", key, err)
	}
	return nil
}

// Stat reports whether the object exists, mapping a missing key to
// ErrObjectMissing.
func (s *Store) Stat(ctx context.Context, key string) error {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return fmt.Errorf("%w: %s", ErrObjectMissing, key)
		}
		return fmt.Errorf("failed to stat object %q: %w", key, err)
	}
	return nil
}

// ShareLink builds the externally reachable download URL for a stored key.
func (s *Store) ShareLink(key string) string {
	return s.shareBaseURL + "/" + s.bucket + "/" + key
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
