package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/cache"
	"github.com/JakeFAU/calendar-sources/internal/calendar"
	"github.com/JakeFAU/calendar-sources/internal/events"
	"github.com/JakeFAU/calendar-sources/internal/location"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
)

// Load outcomes recorded in metrics.
const (
	outcomeCacheHit = "cache_hit"
	outcomeFetched  = "fetched"
	outcomeError    = "error"
)

// LoadExternalCalendar loads the calendar identified by id
// ("<protocol>:<location>"). It never fails: errors are reported in the
// result, logged and emitted as calendar-error events.
func (r *Registry) LoadExternalCalendar(ctx context.Context, id string, opts calendar.LoadOptions) calendar.LoadResult {
	start := r.now()
	result := calendar.LoadResult{LoadedAt: start.UTC()}

	protocolName, loc, err := calendar.ParseID(id)
	if err != nil {
		return r.fail(ctx, id, protocolName, result, err, start)
	}
	h, ok := r.Handler(protocolName)
	if !ok {
		err := calendar.NewError(calendar.KindProtocolNotRegistered, "no handler registered for protocol %q", protocolName)
		return r.fail(ctx, id, protocolName, result, err, start)
	}

	source := r.sourceFor(protocolName, loc)
	result.Source = &source
	key := cacheKey(id, loc, opts)

	skip := r.shouldSkipCache(ctx, h, loc, opts)
	if !skip && !opts.ForceRefresh {
		if entry, hit := r.cache.Get(key, cache.GetOptions{}); hit {
			cachedSource := entry.Source
			result.Success = true
			result.Calendar = entry.Calendar
			result.FromCache = true
			result.Source = &cachedSource
			result.VersionTag = entry.ETag
			metrics.ObserveLoad(protocolName, outcomeCacheHit, r.now().Sub(start))
			r.events.Emit(ctx, events.Event{
				Type:       events.TypeLoaded,
				CalendarID: id,
				Calendar:   entry.Calendar,
				FromCache:  true,
			})
			return result
		}
	}

	if opts.Timeout <= 0 {
		opts.Timeout = r.Config().RequestTimeout
	}
	loaded, err := r.invoke(ctx, h, loc, opts)
	if err != nil {
		return r.fail(ctx, id, protocolName, result, err, start)
	}

	result.Success = true
	result.Calendar = loaded.Calendar
	result.VersionTag = loaded.VersionTag
	metrics.ObserveLoad(protocolName, outcomeFetched, r.now().Sub(start))
	r.logger.Debug("loaded external calendar",
		zap.String("id", id),
		zap.String("resolved", loaded.Location),
		zap.String("version_tag", loaded.VersionTag),
		zap.Bool("cache_skipped", skip),
	)

	r.events.Emit(ctx, events.Event{Type: events.TypeLoaded, CalendarID: id, Calendar: loaded.Calendar})
	if !skip {
		r.cache.Set(key, loaded.Calendar, source, time.Time{}, loaded.VersionTag)
		r.events.Emit(ctx, events.Event{Type: events.TypeCached, CalendarID: id, Calendar: loaded.Calendar})
	}
	return result
}

// CheckForUpdates asks the handler whether the calendar changed since it
// was cached. Handlers without update support, unknown ids and calendars
// that were never cached report false.
func (r *Registry) CheckForUpdates(ctx context.Context, id string) bool {
	return r.checkForUpdates(ctx, id, calendar.LoadOptions{})
}

func (r *Registry) checkForUpdates(ctx context.Context, id string, opts calendar.LoadOptions) (changed bool) {
	protocolName, loc, err := calendar.ParseID(id)
	if err != nil {
		return false
	}
	h, ok := r.Handler(protocolName)
	if !ok {
		return false
	}
	checker, ok := h.(protocol.UpdateChecker)
	if !ok {
		return false
	}
	entry, ok := r.cache.Peek(cacheKey(id, loc, opts))
	if !ok || entry.ETag == "" {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("update check panicked", zap.String("id", id), zap.Any("panic", rec))
			changed = false
		}
	}()
	checkLoc := loc
	if _, fragment := location.SplitFragment(loc); fragment == "" && opts.CalendarID != "" {
		checkLoc = loc + "#" + opts.CalendarID
	}
	return checker.CheckForUpdates(ctx, checkLoc, entry.ETag)
}

// shouldSkipCache applies the bypass rules: the DevMode flag, a local or
// high-confidence development environment unless opts.IgnoreEnvironment,
// opts.SkipCache, and handlers that opt out for a location (filesystem,
// pre-release packages).
func (r *Registry) shouldSkipCache(ctx context.Context, h protocol.Handler, loc string, opts calendar.LoadOptions) bool {
	if opts.SkipCache || r.Config().DevMode {
		return true
	}
	if !opts.IgnoreEnvironment && r.env != nil && (r.env.ShouldDisableCache() || r.env.IsDevMode()) {
		return true
	}
	if policy, ok := h.(protocol.CachePolicy); ok && policy.SkipCache(ctx, loc) {
		return true
	}
	return false
}

// invoke calls the handler, converting panics into failures.
func (r *Registry) invoke(ctx context.Context, h protocol.Handler, loc string, opts calendar.LoadOptions) (res protocol.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = calendar.NewError(calendar.KindUnknown, "handler %s panicked: %v", h.Protocol(), rec)
		}
	}()
	res, err = h.LoadCalendar(ctx, loc, opts)
	if err == nil && res.Calendar == nil {
		err = calendar.NewError(calendar.KindMalformedPayload, "handler %s returned no calendar", h.Protocol())
	}
	return res, err
}

func (r *Registry) fail(ctx context.Context, id, protocolName string, result calendar.LoadResult, err error, start time.Time) calendar.LoadResult {
	result.Success = false
	result.Error = err.Error()
	result.ErrorKind = calendar.KindOf(err)
	if protocolName == "" {
		protocolName = "unknown"
	}
	metrics.ObserveLoad(protocolName, outcomeError, r.now().Sub(start))
	r.logger.Warn("external calendar load failed",
		zap.String("id", id),
		zap.String("kind", string(result.ErrorKind)),
		zap.Error(err),
	)
	r.events.Emit(ctx, events.Event{
		Type:       events.TypeError,
		CalendarID: id,
		Error:      result.Error,
		ErrorKind:  result.ErrorKind,
	})
	return result
}

// cacheKey separates entries of one collection selected through
// LoadOptions.CalendarID.
func cacheKey(id, loc string, opts calendar.LoadOptions) string {
	if _, fragment := location.SplitFragment(loc); fragment == "" && opts.CalendarID != "" {
		return fmt.Sprintf("%s#%s", id, opts.CalendarID)
	}
	return id
}
