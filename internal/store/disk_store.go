package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"controlroom/internal/safeio"
	"controlroom/internal/snapshot"
)

// DiskStore reads snapshot artifacts from a local directory tree. Producers
// write under project-scoped subdirectories; files whose base name matches
// the filter glob are candidates.
type DiskStore struct {
	root   string
	fs     *safeio.SafeFS
	filter Filter
}

func NewDiskStore(root string, filter Filter) (*DiskStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	sfs, err := safeio.NewSafeFS(root)
	if err != nil {
		return nil, fmt.Errorf("open snapshot dir %s: %w", root, err)
	}
	return &DiskStore{root: root, fs: sfs, filter: filter.withDefaults()}, nil
}

func (s *DiskStore) Name() string {
	if s == nil {
		return "disk"
	}
	return "disk:" + s.root
}

func (s *DiskStore) List(ctx context.Context) ([]Handle, error) {
	if s == nil || s.fs == nil {
		return nil, fmt.Errorf("store is nil")
	}
	handles := make([]Handle, 0, 32)
	err := s.fs.WalkFiles(s.filter.Match, func(rel string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		handles = append(handles, Handle{
			Key:     rel,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	return handles, nil
}

func (s *DiskStore) Read(ctx context.Context, h Handle) ([]byte, error) {
	if s == nil || s.fs == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, snapshot.Unavailable(h.Key, err)
	}
	key := strings.TrimSpace(h.Key)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if err := s.filter.tooLarge(h.Size); err != nil {
		return nil, err
	}
	f, err := s.fs.SafeOpen(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, snapshot.Unavailable(key, ErrNotFound)
		}
		return nil, snapshot.Unavailable(key, err)
	}
	defer f.Close()

	data, err := s.filter.readLimited(f)
	if errors.Is(err, ErrTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, snapshot.Unavailable(key, err)
	}
	return data, nil
}
