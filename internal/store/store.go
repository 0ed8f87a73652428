package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Handle identifies one artifact as seen by a listing. Handles may go stale:
// a producer can overwrite or remove the artifact before it is read.
type Handle struct {
	Key     string
	Size    int64
	ModTime time.Time
	// Version is a backend content tag (S3 ETag, row digest) when one is
	// offered. Empty for disk, where size and mtime are all there is.
	Version string
}

// Store lists and reads snapshot artifacts. Implementations are read-only
// observers of producer-owned artifacts and make no ordering promises.
type Store interface {
	List(ctx context.Context) ([]Handle, error)
	Read(ctx context.Context, h Handle) ([]byte, error)
	Name() string
}

var (
	ErrNotFound = errors.New("artifact not found")
	// ErrTooLarge is returned by Read when an artifact exceeds the read cap.
	// It is an artifact defect, not an unavailability.
	ErrTooLarge = errors.New("artifact exceeds size limit")
)

const (
	// DefaultArtifactGlob admits every JSON file. Deployments sharing a tree
	// with producer domain outputs should narrow it.
	DefaultArtifactGlob = "*.json"
	// DefaultMaxArtifactBytes caps a single artifact read.
	DefaultMaxArtifactBytes int64 = 4 << 20
)

// Filter decides which listed keys are artifacts and how much of one is read.
type Filter struct {
	// Glob is matched case-insensitively against the base name of a key
	// with path.Match syntax.
	Glob string
	// MaxBytes is the largest artifact Read will return.
	MaxBytes int64
}

func (f Filter) withDefaults() Filter {
	f.Glob = strings.TrimSpace(f.Glob)
	if f.Glob == "" {
		f.Glob = DefaultArtifactGlob
	}
	if f.MaxBytes <= 0 {
		f.MaxBytes = DefaultMaxArtifactBytes
	}
	return f
}

// Validate reports a malformed glob.
func (f Filter) Validate() error {
	f = f.withDefaults()
	if _, err := path.Match(strings.ToLower(f.Glob), ""); err != nil {
		return fmt.Errorf("artifact glob %q: %w", f.Glob, err)
	}
	return nil
}

// Match reports whether key names an artifact. Directory keys and hidden
// files never match.
func (f Filter) Match(key string) bool {
	f = f.withDefaults()
	if key == "" || strings.HasSuffix(key, "/") {
		return false
	}
	base := path.Base(strings.ReplaceAll(key, "\\", "/"))
	if strings.HasPrefix(base, ".") {
		return false
	}
	ok, err := path.Match(strings.ToLower(f.Glob), strings.ToLower(base))
	return err == nil && ok
}

// tooLarge reports whether a listed size already exceeds the cap.
func (f Filter) tooLarge(size int64) error {
	f = f.withDefaults()
	if size > f.MaxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, size, f.MaxBytes)
	}
	return nil
}

// readLimited reads r up to the cap, failing with ErrTooLarge when more
// remains.
func (f Filter) readLimited(r io.Reader) ([]byte, error) {
	f = f.withDefaults()
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if n > f.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.MaxBytes)
	}
	return buf.Bytes(), nil
}
