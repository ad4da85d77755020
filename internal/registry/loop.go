package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

// updateWorkers bounds concurrent update checks within one cycle.
const updateWorkers = 4

// Start loads persisted sources and, when AutoUpdate is set, launches the
// background update loop. The loop stops when ctx ends or Close is called.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.LoadSources(ctx); err != nil {
		return err
	}
	r.loopMu.Lock()
	r.loopCtx = ctx
	r.loopMu.Unlock()
	r.restartLoop()
	return nil
}

// Close stops the update loop and the cache sweeper.
func (r *Registry) Close() {
	r.stopLoop()
	r.cache.Destroy()
}

func (r *Registry) restartLoop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLoopLocked()
	if r.loopCtx == nil {
		// Start has not been called yet.
		return
	}
	cfg := r.Config()
	if !cfg.AutoUpdate {
		return
	}
	ctx, cancel := context.WithCancel(r.loopCtx)
	done := make(chan struct{})
	r.loopCancel = cancel
	r.loopDone = done
	go r.runLoop(ctx, cfg.UpdateInterval, done)
	r.logger.Info("calendar update loop started", zap.Duration("interval", cfg.UpdateInterval))
}

func (r *Registry) stopLoop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	r.stopLoopLocked()
}

func (r *Registry) stopLoopLocked() {
	if r.loopCancel == nil {
		return
	}
	r.loopCancel()
	<-r.loopDone
	r.loopCancel, r.loopDone = nil, nil
}

func (r *Registry) runLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunUpdateCycle(ctx)
		}
	}
}

// RunUpdateCycle checks every enabled source for changes and reloads the
// changed ones, bypassing the cache read. It returns the number of sources
// that were refreshed.
func (r *Registry) RunUpdateCycle(ctx context.Context) int {
	sources := r.Sources()
	jobs := make(chan calendar.ExternalSource)
	var refreshed atomic.Int64
	var wg sync.WaitGroup
	for range min(updateWorkers, len(sources)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				if r.updateSource(ctx, src) {
					refreshed.Add(1)
				}
			}
		}()
	}

feed:
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		select {
		case <-ctx.Done():
			break feed
		case jobs <- src:
		}
	}
	close(jobs)
	wg.Wait()

	n := int(refreshed.Load())
	r.logger.Debug("calendar update cycle finished", zap.Int("sources", len(sources)), zap.Int("refreshed", n))
	return n
}

func (r *Registry) updateSource(ctx context.Context, src calendar.ExternalSource) bool {
	id := src.ID()
	changed := r.checkForUpdates(ctx, id, calendar.LoadOptions{})
	r.stampChecked(ctx, src.Key(), r.now())
	if !changed {
		return false
	}
	res := r.LoadExternalCalendar(ctx, id, calendar.LoadOptions{ForceRefresh: true})
	if res.Success {
		r.logger.Info("refreshed external calendar", zap.String("id", id), zap.String("version_tag", res.VersionTag))
	}
	return res.Success
}
