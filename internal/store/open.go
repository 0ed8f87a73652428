package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// OpenConfig selects and configures a backend from a store location.
type OpenConfig struct {
	// Location is a directory path, file://path, s3://bucket/prefix or a
	// postgres:// DSN.
	Location string
	// S3 holds credentials and endpoint; bucket and prefix come from Location.
	S3    S3Config
	Table string
	Cache CacheConfig
	// Filter selects artifacts by base name and caps reads on every backend.
	Filter Filter
}

type Kind string

const (
	KindDisk     Kind = "disk"
	KindS3       Kind = "s3"
	KindPostgres Kind = "postgres"
)

// ParseLocation classifies a store location. For s3 it returns bucket and
// prefix; for disk the cleaned path; for postgres the DSN unchanged.
func ParseLocation(location string) (kind Kind, target string, prefix string, err error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return "", "", "", fmt.Errorf("store location is required")
	}
	lower := strings.ToLower(loc)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		u, err := url.Parse(loc)
		if err != nil {
			return "", "", "", fmt.Errorf("parse store location: %w", err)
		}
		if u.Host == "" {
			return "", "", "", fmt.Errorf("s3 location %q has no bucket", loc)
		}
		return KindS3, u.Host, strings.Trim(u.Path, "/"), nil
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindPostgres, loc, "", nil
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(loc)
		if err != nil {
			return "", "", "", fmt.Errorf("parse store location: %w", err)
		}
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			path = u.Host + u.Path
		}
		if path == "" {
			return "", "", "", fmt.Errorf("file location %q has no path", loc)
		}
		return KindDisk, path, "", nil
	default:
		return KindDisk, loc, "", nil
	}
}

// Open builds the backend named by cfg.Location and wraps it in a read cache.
func Open(ctx context.Context, cfg OpenConfig) (Store, error) {
	kind, target, prefix, err := ParseLocation(cfg.Location)
	if err != nil {
		return nil, err
	}
	var origin Store
	switch kind {
	case KindS3:
		s3cfg := cfg.S3
		s3cfg.Bucket = target
		s3cfg.Prefix = prefix
		s3cfg.Filter = cfg.Filter
		origin, err = NewS3Store(s3cfg)
	case KindPostgres:
		origin, err = OpenPostgresStore(ctx, target, cfg.Table, cfg.Filter)
	default:
		origin, err = NewDiskStore(target, cfg.Filter)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", kind, err)
	}
	return NewCachedStore(origin, cfg.Cache), nil
}
