package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage is an Engine backed by an S3-compatible object store via the
// MinIO client. All content classes share one bucket; objects are keyed
// "{class}/{name}". The object's LastModified timestamp serves as its
// creation time, which is what the reaper ages against.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// MinioConfig holds the connection settings for an S3-compatible backend.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// NewMinioStorage connects to the configured endpoint and ensures the bucket
// exists.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint must not be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket must not be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinioStorage{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(class string, name string) string {
	return class + "/" + name
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

func (s *MinioStorage) Commit(ctx context.Context, class string, name string, stagingPath string) (Entry, error) {
	if err := validateName(class); err != nil {
		return Entry{}, err
	}
	if err := validateName(name); err != nil {
		return Entry{}, err
	}

	info, err := s.client.FPutObject(ctx, s.bucket, objectKey(class, name), stagingPath, minio.PutObjectOptions{})
	if err != nil {
		return Entry{}, fmt.Errorf("commit %s/%s: %w", class, name, err)
	}

	// The payload is durable remotely; drop the staging file.
	if err := os.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
		return Entry{}, err
	}

	stat, err := s.client.StatObject(ctx, s.bucket, objectKey(class, name), minio.StatObjectOptions{})
	if err != nil {
		return Entry{}, fmt.Errorf("stat committed object: %w", err)
	}
	return Entry{Name: name, Size: info.Size, ModTime: stat.LastModified.UTC()}, nil
}

func (s *MinioStorage) Put(ctx context.Context, class string, name string, data []byte) (Entry, error) {
	if err := validateName(class); err != nil {
		return Entry{}, err
	}
	if err := validateName(name); err != nil {
		return Entry{}, err
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectKey(class, name),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return Entry{}, fmt.Errorf("put %s/%s: %w", class, name, err)
	}

	stat, err := s.client.StatObject(ctx, s.bucket, objectKey(class, name), minio.StatObjectOptions{})
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Size: stat.Size, ModTime: stat.LastModified.UTC()}, nil
}

func (s *MinioStorage) Open(ctx context.Context, class string, name string) (io.ReadCloser, Entry, error) {
	if err := validateName(class); err != nil {
		return nil, Entry{}, err
	}
	if err := validateName(name); err != nil {
		return nil, Entry{}, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(class, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, Entry{}, err
	}

	// GetObject is lazy; Stat performs the request and surfaces NoSuchKey.
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, Entry{}, fmt.Errorf("open %s/%s: %w", class, name, fs.ErrNotExist)
		}
		return nil, Entry{}, err
	}

	return obj, Entry{Name: name, Size: stat.Size, ModTime: stat.LastModified.UTC()}, nil
}

func (s *MinioStorage) Resolve(ctx context.Context, class string, stem string) (Entry, error) {
	if err := validateName(class); err != nil {
		return Entry{}, err
	}
	if err := validateName(stem); err != nil {
		return Entry{}, err
	}

	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    objectKey(class, stem),
		Recursive: true,
	}) {
		if info.Err != nil {
			return Entry{}, info.Err
		}
		entry := Entry{
			Name:    strings.TrimPrefix(info.Key, class+"/"),
			Size:    info.Size,
			ModTime: info.LastModified.UTC(),
		}
		if strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		if entry.Stem() == stem {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("resolve %s/%s: %w", class, stem, fs.ErrNotExist)
}

func (s *MinioStorage) List(ctx context.Context, class string) ([]Entry, error) {
	if err := validateName(class); err != nil {
		return nil, err
	}

	var entries []Entry
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    class + "/",
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		entries = append(entries, Entry{
			Name:    strings.TrimPrefix(info.Key, class+"/"),
			Size:    info.Size,
			ModTime: info.LastModified.UTC(),
		})
	}
	return entries, nil
}

func (s *MinioStorage) Remove(ctx context.Context, class string, name string) error {
	if err := validateName(class); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	// RemoveObject on a missing key succeeds, matching the Engine contract.
	return s.client.RemoveObject(ctx, s.bucket, objectKey(class, name), minio.RemoveObjectOptions{})
}
