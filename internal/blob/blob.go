// Package blob turns stored photo references into URLs a client can fetch.
// Uploading and deleting objects belong to the blob collaborator.
package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Resolver interface {
	URL(ctx context.Context, ref string) (string, error)
}

func isAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// StaticResolver joins references onto a public base URL.
type StaticResolver struct {
	base string
}

func NewStaticResolver(base string) StaticResolver {
	return StaticResolver{base: strings.TrimRight(base, "/")}
}

func (r StaticResolver) URL(_ context.Context, ref string) (string, error) {
	if isAbsolute(ref) || r.base == "" {
		return ref, nil
	}
	return r.base + "/" + strings.TrimLeft(ref, "/"), nil
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	TTL       time.Duration
}

// MinioResolver signs GET URLs for objects in one bucket. Signing is local;
// with Region set the client never has to look up the bucket location.
type MinioResolver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewMinioResolver(cfg MinioConfig) (*MinioResolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MinioResolver{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

func (r *MinioResolver) URL(ctx context.Context, ref string) (string, error) {
	if isAbsolute(ref) {
		return ref, nil
	}
	object := strings.TrimLeft(ref, "/")
	if object == "" {
		return "", fmt.Errorf("empty photo reference")
	}
	signed, err := r.client.PresignedGetObject(ctx, r.bucket, object, r.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	return signed.String(), nil
}
