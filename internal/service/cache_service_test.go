package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/lms-billing-api/pkg/errors"
)

type memoryCache struct {
	data    map[string][]byte
	deleted []string
	err     error
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	if m.err != nil {
		return m.err
	}
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
		}
	}
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := &memoryCache{data: map[string][]byte{}}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, nil, true)
	key := FeeCacheKey("course-1", "stu-1")

	var out map[string]string
	hit, err := svc.Get(context.Background(), key, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(context.Background(), key, map[string]string{"id": "enr-1"}, 0))
	hit, err = svc.Get(context.Background(), key, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "enr-1", out["id"])

	require.NoError(t, svc.Invalidate(context.Background(), FeeCachePattern("course-1")))
	assert.Empty(t, repo.data)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := &memoryCache{data: map[string][]byte{}}
	svc := NewCacheService(repo, nil, 0, nil, false)

	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.Empty(t, repo.data)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	require.NoError(t, nilSvc.Invalidate(context.Background(), "fees:*"))
}

func TestCacheServiceSurfacesStoreErrors(t *testing.T) {
	repo := &memoryCache{data: map[string][]byte{}, err: errors.New("redis down")}
	svc := NewCacheService(repo, nil, 0, nil, true)

	var out string
	hit, err := svc.Get(context.Background(), "k", &out)
	require.Error(t, err)
	assert.False(t, hit)
	require.Error(t, svc.Invalidate(context.Background(), "fees:*"))
}

func TestFeeCacheKeys(t *testing.T) {
	assert.Equal(t, "fees:course:c1:student:s1", FeeCacheKey("c1", "s1"))
	assert.Equal(t, "fees:course:c1:*", FeeCachePattern("c1"))
}
