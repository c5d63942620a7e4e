package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/afterschool-ops-api/internal/dto"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

type cacheRepoStub struct {
	values  map[string]dto.CalendarResponse
	ttl     time.Duration
	deleted []string
	getErr  error
}

func (r *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if r.getErr != nil {
		return r.getErr
	}
	v, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*dto.CalendarResponse) = v
	return nil
}

func (r *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.values[key] = value.(dto.CalendarResponse)
	r.ttl = ttl
	return nil
}

func (r *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	r.deleted = append(r.deleted, pattern)
	return nil
}

func TestCacheServiceHitMissAndTTL(t *testing.T) {
	repo := &cacheRepoStub{values: map[string]dto.CalendarResponse{}}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, zap.NewNop(), true)
	ctx := context.Background()
	key := CalendarCacheKey("P", "S", "2024-01-01", "")
	assert.Equal(t, "calendar:P:S:2024-01-01:", key)

	var out dto.CalendarResponse
	hit, err := svc.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, key, dto.CalendarResponse{ProgramID: "P"}, 0))
	assert.Equal(t, 5*time.Minute, repo.ttl)

	hit, err = svc.Get(ctx, key, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "P", out.ProgramID)

	require.NoError(t, svc.Invalidate(ctx, CalendarCachePattern("P")))
	assert.Equal(t, []string{"calendar:P:*"}, repo.deleted)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	repo := &cacheRepoStub{values: map[string]dto.CalendarResponse{}}
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", dto.CalendarResponse{}, 0))
	require.NoError(t, svc.Invalidate(ctx, "calendar:*"))
	hit, err := svc.Get(ctx, "k", &dto.CalendarResponse{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Empty(t, repo.values)
	assert.Empty(t, repo.deleted)
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	repo := &cacheRepoStub{getErr: errors.New("connection refused")}
	svc := NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)

	hit, err := svc.Get(context.Background(), "k", &dto.CalendarResponse{})
	assert.Error(t, err)
	assert.False(t, hit)
}
