package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-outreach/core"
)

const jobCacheKeyPrefix = "go-outreach::job::v1"

// CachedJobReader serves job reads through a cache. Only terminal jobs stay
// cached since they never change again.
type CachedJobReader struct {
	base  core.JobReader
	cache repositorycache.CacheService
}

func NewCachedJobReader(base core.JobReader, cacheService repositorycache.CacheService) (*CachedJobReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base job reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: job cache service is required")
	}
	return &CachedJobReader{base: base, cache: cacheService}, nil
}

// JobCacheKey returns go-outreach::job::v1::<id> with the id path escaped.
func JobCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: job id is required")
	}
	return jobCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (r *CachedJobReader) Get(ctx context.Context, id string) (core.Job, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.Job{}, fmt.Errorf("sqlstore: cached job reader is not configured")
	}
	cacheKey, err := JobCacheKey(id)
	if err != nil {
		return core.Job{}, err
	}

	job, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) (core.Job, error) {
		return r.base.Get(ctx, strings.TrimSpace(id))
	})
	if err != nil {
		return core.Job{}, err
	}
	if !job.State.Terminal() {
		if err := r.cache.Delete(ctx, cacheKey); err != nil {
			return core.Job{}, err
		}
	}
	return cloneJob(job), nil
}

func cloneJob(job core.Job) core.Job {
	out := job
	out.Payload = core.CopyAnyMap(job.Payload)
	out.Result = core.CopyAnyMap(job.Result)
	out.LeaseExpiresAt = utcPointer(job.LeaseExpiresAt)
	out.StartedAt = utcPointer(job.StartedAt)
	out.FinishedAt = utcPointer(job.FinishedAt)
	return out
}

var _ core.JobReader = (*CachedJobReader)(nil)
