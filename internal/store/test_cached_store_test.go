package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOriginStore struct {
	mu sync.Mutex

	data    map[string][]byte
	handles []Handle

	readCalls int
	listCalls int
	failList  bool
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{data: map[string][]byte{}}
}

func (s *fakeOriginStore) put(key string, body []byte, mod time.Time) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), body...)
	h := Handle{Key: key, Size: int64(len(body)), ModTime: mod}
	for i := range s.handles {
		if s.handles[i].Key == key {
			s.handles[i] = h
			return h
		}
	}
	s.handles = append(s.handles, h)
	return h
}

func (s *fakeOriginStore) Name() string { return "fake" }

func (s *fakeOriginStore) List(_ context.Context) ([]Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.failList {
		return nil, fmt.Errorf("list failed")
	}
	return append([]Handle(nil), s.handles...), nil
}

func (s *fakeOriginStore) Read(_ context.Context, h Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	raw, ok := s.data[h.Key]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return append([]byte(nil), raw...), nil
}

func TestCachedStoreReadThroughAndMetrics(t *testing.T) {
	origin := newFakeOriginStore()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := origin.put("ops-cell-lite/a.json", []byte(`{"v":1}`), t0)
	s := NewCachedStore(origin, CacheConfig{TTL: time.Minute, MaxEntries: 8})
	ctx := context.Background()

	raw, err := s.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(raw))

	raw, err = s.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(raw))
	assert.Equal(t, 1, origin.readCalls)

	m := s.Metrics()
	assert.Equal(t, uint64(1), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(1), m.OriginReads)
}

func TestCachedStoreRewriteIsAMiss(t *testing.T) {
	origin := newFakeOriginStore()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := origin.put("control_room_snapshot.json", []byte(`{"v":1}`), t0)
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	_, err := s.Read(ctx, h1)
	require.NoError(t, err)

	h2 := origin.put("control_room_snapshot.json", []byte(`{"v":22}`), t0.Add(time.Second))
	raw, err := s.Read(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, `{"v":22}`, string(raw))
	assert.Equal(t, 2, origin.readCalls)
}

func TestCachedStoreNeverCachesListings(t *testing.T) {
	origin := newFakeOriginStore()
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	_, err := s.List(ctx)
	require.NoError(t, err)
	origin.put("a.json", []byte(`{}`), time.Now())
	handles, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, handles, 1)
	assert.Equal(t, 2, origin.listCalls)

	origin.failList = true
	_, err = s.List(ctx)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), s.Metrics().OriginErrs)
}

func TestCachedStoreReturnsCopies(t *testing.T) {
	origin := newFakeOriginStore()
	h := origin.put("a.json", []byte(`{"v":1}`), time.Now())
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	raw, err := s.Read(ctx, h)
	require.NoError(t, err)
	raw[0] = 'X'

	again, err := s.Read(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(again))
}

func TestCachedStoreSameSizeRewriteWithNewVersionIsAMiss(t *testing.T) {
	origin := newFakeOriginStore()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := origin.put("control_room_snapshot.json", []byte(`{"v":1}`), t0)
	h1.Version = "etag-1"
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	_, err := s.Read(ctx, h1)
	require.NoError(t, err)

	// Same key, size and mtime; only the content tag moved.
	h2 := origin.put("control_room_snapshot.json", []byte(`{"v":2}`), t0)
	h2.Version = "etag-2"
	require.Equal(t, h1.Size, h2.Size)

	raw, err := s.Read(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(raw))
	assert.Equal(t, 2, origin.readCalls)

	raw, err = s.Read(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(raw))
	assert.Equal(t, 2, origin.readCalls)
}
