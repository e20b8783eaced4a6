// Package settings supplies the system-wide expiry thresholds used when
// committing imports and computing license status.
package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/expiry"
	"github.com/FadyJaradat/LicenseWatch-docker-nginx-sub000/internal/logging"
)

// Static always returns the same thresholds.
type Static struct {
	th expiry.Thresholds
}

// NewStatic returns a provider for the given pair.
func NewStatic(criticalDays, warningDays int) Static {
	return Static{th: expiry.Thresholds{CriticalDays: criticalDays, WarningDays: warningDays}}
}

// Thresholds implements core.SettingsProvider.
func (s Static) Thresholds(context.Context) (expiry.Thresholds, error) {
	return s.th.Normalize(), nil
}

// Source reads stored thresholds. ok is false when nothing has been saved.
type Source interface {
	LoadThresholds(ctx context.Context) (th expiry.Thresholds, ok bool, err error)
}

// Cached loads thresholds from a Source and keeps them for a TTL.
//
// Concurrent misses share a single load. When a reload fails the last good
// value is served; a failure before any successful load is returned.
type Cached struct {
	source   Source
	fallback expiry.Thresholds
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	value    expiry.Thresholds
	loadedAt time.Time
	loaded   bool
}

// NewCached wraps source. fallback is used while the source has no stored
// value. A ttl of zero disables caching.
func NewCached(source Source, fallback expiry.Thresholds, ttl time.Duration) *Cached {
	return &Cached{
		source:   source,
		fallback: fallback.Normalize(),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Thresholds implements core.SettingsProvider.
func (c *Cached) Thresholds(ctx context.Context) (expiry.Thresholds, error) {
	if th, ok := c.fresh(); ok {
		return th, nil
	}

	v, err, _ := c.group.Do("thresholds", func() (any, error) {
		return c.load(ctx)
	})
	if err != nil {
		c.mu.RLock()
		stale, loaded := c.value, c.loaded
		c.mu.RUnlock()
		if loaded {
			logging.FromContext(ctx).Warn("settings reload failed, serving cached thresholds",
				"error", err, "thresholds", stale.String())
			return stale, nil
		}
		return expiry.Thresholds{}, err
	}
	return v.(expiry.Thresholds), nil
}

func (c *Cached) fresh() (expiry.Thresholds, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || c.ttl <= 0 {
		return expiry.Thresholds{}, false
	}
	if c.now().Sub(c.loadedAt) >= c.ttl {
		return expiry.Thresholds{}, false
	}
	return c.value, true
}

func (c *Cached) load(ctx context.Context) (expiry.Thresholds, error) {
	th, ok, err := c.source.LoadThresholds(ctx)
	if err != nil {
		return expiry.Thresholds{}, fmt.Errorf("load threshold settings: %w", err)
	}
	if !ok {
		th = c.fallback
	}
	th = th.Normalize()

	c.mu.Lock()
	c.value = th
	c.loadedAt = c.now()
	c.loaded = true
	c.mu.Unlock()
	return th, nil
}
