package objstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicBaseURL overrides the URL prefix returned for uploaded
	// objects (CDN fronting). Empty means endpoint-derived path-style URLs.
	PublicBaseURL string
}

// MinioStore implements ObjectStore over any S3-compatible endpoint.
type MinioStore struct {
	cfg    Config
	client *minio.Client
}

// NewMinioStore creates a MinioStore.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}
	return &MinioStore{cfg: cfg, client: cl}, nil
}

// EnsureBuckets creates any missing buckets.
func (s *MinioStore) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Upload streams data to the bucket, reporting progress, and returns the
// object's public URL. No timeout is imposed beyond the caller's context;
// large attachments run to completion or failure.
func (s *MinioStore) Upload(ctx context.Context, bucket, key, contentType string, data []byte, progress ProgressFunc) (string, error) {
	reader := &progressReader{
		r:        bytes.NewReader(data),
		total:    int64(len(data)),
		progress: progress,
	}
	_, err := s.client.PutObject(ctx, bucket, key, reader, int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return s.publicURL(bucket, key), nil
}

// Remove deletes an object.
func (s *MinioStore) Remove(ctx context.Context, bucket, key string) error {
	return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

// publicURL builds the permanent URL for a stored object.
func (s *MinioStore) publicURL(bucket, key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + bucket + "/" + key
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(s.cfg.Endpoint, "https://"), "http://")
	return fmt.Sprintf("%s://%s/%s/%s", scheme, endpoint, bucket, key)
}

// progressReader reports bytes read through it.
type progressReader struct {
	r        *bytes.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		if p.progress != nil {
			p.progress(p.read, p.total)
		}
	}
	return n, err
}
