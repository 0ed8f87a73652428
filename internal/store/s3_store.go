package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"controlroom/internal/snapshot"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Filter    Filter
}

// S3Store reads snapshot artifacts from an S3-compatible bucket. It never
// creates buckets or writes objects.
type S3Store struct {
	client     *minio.Client
	bucketName string
	prefix     string
	filter     Filter
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if err := cfg.Filter.Validate(); err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		prefix:     normalizePrefix(cfg.Prefix),
		filter:     cfg.Filter.withDefaults(),
	}, nil
}

func (s *S3Store) Name() string {
	if s == nil {
		return "s3"
	}
	return "s3://" + s.bucketName + "/" + s.prefix
}

func (s *S3Store) List(ctx context.Context) ([]Handle, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	handles := make([]Handle, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", s.Name(), obj.Err)
		}
		if !s.filter.Match(obj.Key) {
			continue
		}
		handles = append(handles, Handle{
			Key:     strings.TrimPrefix(obj.Key, s.prefix),
			Size:    obj.Size,
			ModTime: obj.LastModified.UTC(),
			Version: strings.Trim(obj.ETag, `"`),
		})
	}
	return handles, nil
}

func (s *S3Store) Read(ctx context.Context, h Handle) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("store is nil")
	}
	key := strings.TrimLeft(strings.TrimSpace(h.Key), "/")
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if err := s.filter.tooLarge(h.Size); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, s.prefix+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, snapshot.Unavailable(key, err)
	}
	defer obj.Close()

	data, err := s.filter.readLimited(obj)
	if errors.Is(err, ErrTooLarge) {
		return nil, err
	}
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, snapshot.Unavailable(key, ErrNotFound)
		}
		return nil, snapshot.Unavailable(key, err)
	}
	return data, nil
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
