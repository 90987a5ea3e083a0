// Package s3storage keeps uploaded media in a MinIO/S3 bucket. The rest of the
// system only ever sees object keys.
package s3storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/racketdrop/internal/config"
)

// UploadPrefix is where media uploaded through the API lands.
const UploadPrefix = "uploads/"

// Object describes a stored media file.
type Object struct {
	Key          string    `json:"mediaReference"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Storage wraps MinIO interactions for the media bucket.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the storage settings.
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// EnsureBucket creates the media bucket when missing.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads media under key. size may be -1 when unknown.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return fmt.Errorf("upload object %s: %w", key, err)
	}
	return nil
}

// Exists checks for key without downloading it.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// List returns every object under prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects: %w", info.Err)
		}
		out = append(out, Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified.UTC()})
	}
	return out, nil
}

// ObjectKey builds the key for an uploaded file. The id keeps repeated
// uploads of the same filename apart.
func ObjectKey(id, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return UploadPrefix + id + "/" + name
}
