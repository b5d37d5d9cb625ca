package geolite

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"geoipd/internal/database"
)

// Loader persists a normalized dataset. *database.Store implements it.
type Loader interface {
	ReplaceGeoData(ctx context.Context, data database.GeoData, progress database.BatchProgress) (database.LoadStats, error)
}

// Pipeline runs fetch, normalize and load in order. Every failure is returned
// as a *StageError and nothing is written unless normalization succeeded.
type Pipeline struct {
	Fetcher     Fetcher
	Loader      Loader
	Observer    Observer
	Parallelism int
}

type Result struct {
	Archive   int64
	Blocks    int
	Locations int
	Names     int
	Languages []string
	Load      database.LoadStats
	Duration  time.Duration
}

func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	observer := observerOrNop(p.Observer)

	artifact, err := p.Fetcher.Fetch(ctx, observer)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}
	defer func() {
		if err := artifact.Remove(); err != nil {
			log.Warn("Failed to remove downloaded archive", "path", artifact.Path, "error", err)
		}
	}()

	log.Info("Normalizing archive", "path", artifact.Path, "bytes", artifact.Size)
	dataset, err := Normalize(ctx, artifact.Path, Options{Parallelism: p.Parallelism, Observer: observer})
	if err != nil {
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}

	data := dataset.GeoData()
	log.Info("Loading geo data", "blocks", len(data.Blocks), "locations", len(data.Locations), "names", len(data.Names))
	stats, err := p.Loader.ReplaceGeoData(ctx, data, observer)
	if err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}

	return &Result{
		Archive:   artifact.Size,
		Blocks:    len(data.Blocks),
		Locations: len(data.Locations),
		Names:     len(data.Names),
		Languages: dataset.Names.Languages(),
		Load:      stats,
		Duration:  time.Since(started),
	}, nil
}
