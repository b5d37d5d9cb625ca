package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"geoipd/internal/config"
	"geoipd/internal/database"
	"geoipd/internal/geolite"
	"geoipd/internal/metrics"
	"geoipd/internal/support"
)

const (
	geoLiteIngestLockKey       = "geoipd:lock:ingest"
	geoLiteUpdateLockKey       = "geoipd:leader:geolite_update"
	geoLiteIngestLockTTL       = 2 * time.Minute
	geoLiteUpdateFallbackEvery = 24 * time.Hour
)

// ErrJobRunning is returned when another ingestion holds the lock.
var ErrJobRunning = errors.New("runtime: an ingestion job is already running")

var localIngestMu sync.Mutex

// UpdateRequest describes one ingestion run. Source overrides the configured
// archive location; Observer may be nil.
type UpdateRequest struct {
	StoreAlias string
	Store      *database.Store
	Source     string
	Observer   geolite.Observer
	Reason     string
}

// RunGeoLiteUpdate fetches, normalizes and loads the archive while holding the
// ingestion lock. Failures are *geolite.StageError values.
func RunGeoLiteUpdate(ctx context.Context, req UpdateRequest) (*geolite.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Store == nil {
		return nil, &geolite.StageError{Stage: geolite.StageLoad, Err: errors.New("runtime: no store configured")}
	}

	lockCtx, release, err := acquireIngestLock(ctx)
	if err != nil {
		return nil, &geolite.StageError{Stage: geolite.StageLock, Err: err}
	}
	defer release()

	return runLockedUpdate(ctx, lockCtx, req)
}

// StartGeoLiteUpdate takes the ingestion lock and then runs the update in the
// background, so callers learn about ErrJobRunning before anything starts.
// ctx must outlive the update.
func StartGeoLiteUpdate(ctx context.Context, req UpdateRequest, onReload func()) error {
	if req.Store == nil {
		return &geolite.StageError{Stage: geolite.StageLoad, Err: errors.New("runtime: no store configured")}
	}

	lockCtx, release, err := acquireIngestLock(ctx)
	if err != nil {
		return &geolite.StageError{Stage: geolite.StageLock, Err: err}
	}

	go func() {
		defer release()
		if _, err := runLockedUpdate(ctx, lockCtx, req); err != nil {
			log.Error("GeoLite update failed", "reason", req.Reason, "error", err)
			return
		}
		if onReload != nil {
			onReload()
		}
	}()
	return nil
}

func runLockedUpdate(ctx, lockCtx context.Context, req UpdateRequest) (*geolite.Result, error) {
	source := req.Source
	if source == "" {
		source = config.GeoLiteSourceURL()
	}

	fetcher, err := geolite.NewFetcher(source, config.GetConfig().GeoLite.Proxy, config.GetFetchTimeout())
	if err != nil {
		return nil, &geolite.StageError{Stage: geolite.StageFetch, Err: err}
	}

	pipeline := &geolite.Pipeline{
		Fetcher:     fetcher,
		Loader:      req.Store,
		Observer:    req.Observer,
		Parallelism: config.GetParallelism(),
	}

	log.Info("GeoLite ingestion started", "reason", req.Reason, "store", req.StoreAlias)
	started := time.Now()
	result, err := pipeline.Run(lockCtx)
	metrics.ObserveIngest(err, time.Since(started))
	if err != nil {
		return nil, err
	}

	if err := config.MarkGeoLiteUpdated(time.Now().UTC()); err != nil {
		log.Warn("Failed to persist GeoLite updated timestamp", "error", err)
	}

	if client, err := support.GetRedisClient(); err == nil {
		if err := geolite.PublishReload(ctx, client, geolite.NewReloadNotice(req.StoreAlias, result)); err != nil {
			log.Warn("Failed to publish GeoLite reload notice", "error", err)
		}
	}

	log.Info("GeoLite ingestion finished",
		"reason", req.Reason,
		"blocks", result.Blocks,
		"locations", result.Locations,
		"names", result.Names,
		"languages", len(result.Languages),
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// acquireIngestLock takes the process lock and, when redis is configured,
// the shared lock. The returned context ends if the shared lock is lost.
func acquireIngestLock(ctx context.Context) (context.Context, func(), error) {
	if !localIngestMu.TryLock() {
		return nil, nil, ErrJobRunning
	}

	client, err := support.GetRedisClient()
	if errors.Is(err, support.ErrRedisDisabled) {
		log.Warn("Redis not configured; ingestion lock only covers this process")
		return ctx, localIngestMu.Unlock, nil
	}
	if err != nil {
		localIngestMu.Unlock()
		return nil, nil, fmt.Errorf("runtime: ingestion lock: %w", err)
	}

	lock, err := support.AcquireLock(ctx, client, geoLiteIngestLockKey, geoLiteIngestLockTTL)
	if err != nil {
		localIngestMu.Unlock()
		if errors.Is(err, support.ErrLockHeld) {
			return nil, nil, fmt.Errorf("%w: %w", ErrJobRunning, err)
		}
		return nil, nil, fmt.Errorf("runtime: ingestion lock: %w", err)
	}

	return lock.Context(), func() {
		lock.Release()
		localIngestMu.Unlock()
	}, nil
}

// StartGeoLiteUpdateRoutine reloads the store on the configured interval.
// With redis only the elected leader runs updates. onReload runs after each
// successful load.
func StartGeoLiteUpdateRoutine(ctx context.Context, req UpdateRequest, onReload func()) {
	if ctx == nil {
		ctx = context.Background()
	}

	var intervalValue atomic.Value
	initialInterval := config.GetGeoLiteUpdateInterval()
	if initialInterval <= 0 {
		initialInterval = geoLiteUpdateFallbackEvery
	}
	intervalValue.Store(initialInterval)

	updateSignal := make(chan struct{}, 1)
	updates := config.GeoLiteUpdateIntervalUpdates()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newInterval := <-updates:
				if newInterval <= 0 {
					newInterval = geoLiteUpdateFallbackEvery
				}
				intervalValue.Store(newInterval)
				select {
				case updateSignal <- struct{}{}:
				default:
				}
			}
		}
	}()

	loop := func(loopCtx context.Context) {
		runGeoLiteUpdateLoop(loopCtx, req, onReload, &intervalValue, updateSignal)
	}

	if _, err := support.GetRedisClient(); err != nil {
		log.Debug("GeoLite update routine running without leader election", "reason", err)
		loop(ctx)
		return
	}

	err := support.RunWithLeader(ctx, geoLiteUpdateLockKey, support.DefaultLeadershipTTL, loop)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("GeoLite update routine stopped", "error", err)
	}
}

func runGeoLiteUpdateLoop(ctx context.Context, req UpdateRequest, onReload func(), intervalValue *atomic.Value, updateSignal <-chan struct{}) {
	currentInterval := intervalValue.Load().(time.Duration)
	if currentInterval <= 0 {
		currentInterval = geoLiteUpdateFallbackEvery
	}

	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req.Reason = "scheduled"
			triggerGeoLiteUpdate(ctx, req, onReload, false)
		case <-updateSignal:
			newInterval := intervalValue.Load().(time.Duration)
			if newInterval <= 0 {
				newInterval = geoLiteUpdateFallbackEvery
			}
			if newInterval == currentInterval {
				continue
			}
			drainTicker(ticker)
			currentInterval = newInterval
			ticker.Reset(currentInterval)
		}
	}
}

// TriggerGeoLiteUpdate runs one update outside the schedule. When force is
// false the update only runs if auto updates are enabled.
func TriggerGeoLiteUpdate(ctx context.Context, req UpdateRequest, onReload func(), force bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return triggerGeoLiteUpdate(ctx, req, onReload, force)
}

func triggerGeoLiteUpdate(ctx context.Context, req UpdateRequest, onReload func(), force bool) error {
	cfg := config.GetConfig()
	if !force && !cfg.GeoLite.AutoUpdate {
		log.Debug("GeoLite update skipped: auto update disabled", "reason", req.Reason)
		return nil
	}
	if req.Source == "" && !config.GeoLiteSourceReady() {
		log.Debug("GeoLite update skipped: license key missing", "reason", req.Reason)
		return nil
	}

	_, err := RunGeoLiteUpdate(ctx, req)
	switch {
	case errors.Is(err, ErrJobRunning):
		log.Info("GeoLite update skipped: another ingestion is running", "reason", req.Reason)
	case err != nil:
		log.Error("GeoLite update failed", "reason", req.Reason, "error", err)
	case onReload != nil:
		onReload()
	}
	return err
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
