// Package s3 provides a BlobStore for S3-compatible object stores such as
// Cloudflare R2 or MinIO.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// Config captures connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"-"`
}

// BlobStore reads and writes objects in one bucket.
type BlobStore struct {
	client *minio.Client
	bucket string
}

// New connects a minio client for cfg.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("storage.s3.endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// PutObject uploads data with user metadata, replacing any existing object.
func (s *BlobStore) PutObject(ctx context.Context, key string, data []byte, opts crawler.PutOptions) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// ListObjects lists objects under opts.Prefix. The S3 API returns keys in
// ascending order. Metadata is fetched with a HEAD per object when the
// listing does not carry it.
func (s *BlobStore) ListObjects(ctx context.Context, opts crawler.ListOptions) ([]crawler.ObjectInfo, error) {
	listOpts := minio.ListObjectsOptions{
		Prefix:       opts.Prefix,
		Recursive:    true,
		WithMetadata: opts.IncludeMetadata,
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []crawler.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, listOpts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, opts.Prefix, obj.Err)
		}
		info := crawler.ObjectInfo{Key: obj.Key, Size: obj.Size}
		if opts.IncludeMetadata {
			meta := map[string]string(obj.UserMetadata)
			if len(meta) == 0 {
				stat, err := s.client.StatObject(ctx, s.bucket, obj.Key, minio.StatObjectOptions{})
				if err != nil {
					return nil, fmt.Errorf("stat s3://%s/%s: %w", s.bucket, obj.Key, err)
				}
				meta = stat.UserMetadata
			}
			info.Metadata = normalizeMetadata(meta)
		}
		out = append(out, info)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// GetObject downloads the object at key.
func (s *BlobStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("get object %s: %w", key, crawler.ErrNotFound)
		}
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// normalizeMetadata strips the x-amz-meta- prefix some listings keep.
func normalizeMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if len(k) > len("x-amz-meta-") && strings.EqualFold(k[:len("x-amz-meta-")], "x-amz-meta-") {
			k = k[len("x-amz-meta-"):]
		}
		out[k] = v
	}
	return out
}
