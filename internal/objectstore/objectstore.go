// Package objectstore wraps the MinIO client for the three buckets the
// importer uses: file blobs (publicly readable), the raw JSON response cache
// and pgp keys. File objects are keyed by the file's primary id, cache
// objects by source URL.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	BucketFiles   = "files"
	BucketCache   = "cache"
	BucketPGPKeys = "pgp-keys"
)

// cacheKeySuffix disambiguates a URL from URLs it is a prefix of.
const cacheKeySuffix = "!json"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is prepended to every bucket name so several deployments can
	// share one MinIO instance.
	Prefix string
}

type Store struct {
	client *minio.Client
	prefix string

	initOnce sync.Once
	initErr  error
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return &Store{client: client, prefix: strings.TrimSpace(cfg.Prefix)}, nil
}

func (s *Store) bucket(name string) string {
	return s.prefix + name
}

// EnsureBuckets creates the buckets and applies the public-read policy to
// the files bucket. All other buckets stay private.
func (s *Store) EnsureBuckets(ctx context.Context) error {
	s.initOnce.Do(func() {
		for _, name := range []string{BucketFiles, BucketCache, BucketPGPKeys} {
			bucket := s.bucket(name)
			exists, err := s.client.BucketExists(ctx, bucket)
			if err != nil {
				s.initErr = fmt.Errorf("check bucket %s: %w", bucket, err)
				return
			}
			if !exists {
				if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
					s.initErr = fmt.Errorf("make bucket %s: %w", bucket, err)
					return
				}
			}
		}
		files := s.bucket(BucketFiles)
		if err := s.client.SetBucketPolicy(ctx, files, readOnlyPolicy(files)); err != nil {
			s.initErr = fmt.Errorf("set policy on %s: %w", files, err)
		}
	})
	return s.initErr
}

// PutFile stores a downloaded file blob under the file's primary id.
func (s *Store) PutFile(ctx context.Context, fileID int64, content []byte, contentType string) error {
	if err := s.EnsureBuckets(ctx); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket(BucketFiles), fileKey(fileID),
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// GetFile returns the stored blob for a file id.
func (s *Store) GetFile(ctx context.Context, fileID int64) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket(BucketFiles), fileKey(fileID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// StatFile returns the stored size for a file id, or ok=false when absent.
func (s *Store) StatFile(ctx context.Context, fileID int64) (int64, bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket(BucketFiles), fileKey(fileID), minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size, true, nil
}

// RemoveFile drops the blob of a file id. Missing objects are not an error.
func (s *Store) RemoveFile(ctx context.Context, fileID int64) error {
	return s.client.RemoveObject(ctx, s.bucket(BucketFiles), fileKey(fileID), minio.RemoveObjectOptions{})
}

// PresignFile returns a presigned GET URL for public download links.
func (s *Store) PresignFile(ctx context.Context, fileID int64, expiry time.Duration) (*url.URL, error) {
	return s.client.PresignedGetObject(ctx, s.bucket(BucketFiles), fileKey(fileID), expiry, nil)
}

// PutJSON archives a raw JSON response under its source URL. Best-effort by
// contract; callers log and continue on error.
func (s *Store) PutJSON(ctx context.Context, key string, data []byte) error {
	if err := s.EnsureBuckets(ctx); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket(BucketCache), key+cacheKeySuffix,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// GetJSON reads an archived response. A miss is (nil, false).
func (s *Store) GetJSON(ctx context.Context, key string) ([]byte, bool) {
	obj, err := s.client.GetObject(ctx, s.bucket(BucketCache), key+cacheKeySuffix, minio.GetObjectOptions{})
	if err != nil {
		return nil, false
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, false
	}
	return data, true
}

func fileKey(fileID int64) string {
	return strconv.FormatInt(fileID, 10)
}

func readOnlyPolicy(bucket string) string {
	return fmt.Sprintf(`{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"AWS": ["*"]},
      "Action": ["s3:GetBucketLocation", "s3:ListBucket"],
      "Resource": ["arn:aws:s3:::%s"]
    },
    {
      "Effect": "Allow",
      "Principal": {"AWS": ["*"]},
      "Action": ["s3:GetObject"],
      "Resource": ["arn:aws:s3:::%s/*"]
    }
  ]
}`, bucket, bucket)
}
