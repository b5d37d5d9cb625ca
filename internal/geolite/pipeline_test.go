package geolite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"geoipd/internal/database"
)

type stubFetcher struct {
	artifact *Artifact
	err      error
}

func (f *stubFetcher) Fetch(context.Context, Observer) (*Artifact, error) {
	return f.artifact, f.err
}

type stubLoader struct {
	calls int
	data  database.GeoData
	err   error
}

func (l *stubLoader) ReplaceGeoData(_ context.Context, data database.GeoData, _ database.BatchProgress) (database.LoadStats, error) {
	l.calls++
	l.data = data
	return database.LoadStats{}, l.err
}

// temporaryCopy places the archive where Remove is allowed to delete it.
func temporaryCopy(t *testing.T, entries ...archiveEntry) *Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "download.zip")
	if err := os.WriteFile(path, buildArchive(t, entries...), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return &Artifact{Path: path, temporary: true}
}

func TestPipelineRunsAllStages(t *testing.T) {
	artifact := temporaryCopy(t, standardEntries()...)
	loader := &stubLoader{}
	pipeline := &Pipeline{Fetcher: &stubFetcher{artifact: artifact}, Loader: loader, Parallelism: 2}

	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("loader called %d times", loader.calls)
	}
	if result.Blocks != 2 || result.Locations != 2 || result.Names != len(loader.data.Names) {
		t.Fatalf("result = %+v", result)
	}
	if _, err := os.Stat(artifact.Path); !os.IsNotExist(err) {
		t.Fatalf("temporary archive left behind: %v", err)
	}
}

func TestPipelineStageErrors(t *testing.T) {
	loadErr := errors.New("disk full")

	tests := []struct {
		name       string
		fetcher    *stubFetcher
		loaderErr  error
		wantStage  Stage
		wantErr    error
		wantLoader bool
	}{
		{
			name:      "fetch",
			fetcher:   &stubFetcher{err: fmt.Errorf("%w: timeout", ErrFetch)},
			wantStage: StageFetch,
			wantErr:   ErrFetch,
		},
		{
			name: "missing block member",
			fetcher: &stubFetcher{artifact: temporaryCopy(t,
				archiveEntry{name: "x/GeoLite2-City-Locations-en.csv", body: locationsEN})},
			wantStage: StageNormalize,
			wantErr:   ErrMissingRequiredMember,
		},
		{
			name: "bad cidr",
			fetcher: &stubFetcher{artifact: temporaryCopy(t,
				archiveEntry{name: "x/GeoLite2-City-Blocks-IPv4.csv", body: blocksHeader + "1.2.3.0/40,10,10,,0,0,,,,\n"})},
			wantStage: StageNormalize,
			wantErr:   ErrInvalidCIDR,
		},
		{
			name:       "load",
			fetcher:    &stubFetcher{artifact: temporaryCopy(t, standardEntries()...)},
			loaderErr:  loadErr,
			wantStage:  StageLoad,
			wantErr:    loadErr,
			wantLoader: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &stubLoader{err: tt.loaderErr}
			pipeline := &Pipeline{Fetcher: tt.fetcher, Loader: loader}

			_, err := pipeline.Run(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if stage, ok := StageOf(err); !ok || stage != tt.wantStage {
				t.Fatalf("stage = %q (%v), want %q", stage, ok, tt.wantStage)
			}
			if (loader.calls > 0) != tt.wantLoader {
				t.Fatalf("loader calls = %d, want loader invoked = %v", loader.calls, tt.wantLoader)
			}
			if tt.fetcher.artifact != nil {
				if _, err := os.Stat(tt.fetcher.artifact.Path); !os.IsNotExist(err) {
					t.Fatalf("temporary archive left behind: %v", err)
				}
			}
		})
	}
}

func setupPipelineStore(t *testing.T, batchSize int) *database.Store {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := database.SetupDB(database.WithExistingDB(db), database.WithBatchSize(batchSize))
	if err != nil {
		t.Fatalf("SetupDB: %v", err)
	}
	return store
}

func TestPipelineLoadsIntoStore(t *testing.T) {
	store := setupPipelineStore(t, 1)

	pipeline := &Pipeline{
		Fetcher: &FileFetcher{Path: writeArchive(t, standardEntries()...)},
		Loader:  store,
	}
	result, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Load.Blocks.Batches != 2 {
		t.Fatalf("block batches = %d, want 2", result.Load.Blocks.Batches)
	}

	locator, err := NewLocator(store, 8)
	if err != nil {
		t.Fatalf("NewLocator: %v", err)
	}

	answer, err := locator.Lookup(context.Background(), "1.2.3.200", "de")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if answer.Location == nil || answer.Location.ID != 10 {
		t.Fatalf("location = %+v, want 10", answer.Location)
	}
	if answer.Names == nil || answer.Names.Country == nil || *answer.Names.Country != "Frankreich" {
		t.Fatalf("names = %+v", answer.Names)
	}

	if _, err := locator.Lookup(context.Background(), "1.2.5.1", ""); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("uncovered address error = %v, want ErrNotFound", err)
	}
}

func TestPipelineKeepsStoreOnEmptyBlockMember(t *testing.T) {
	store := setupPipelineStore(t, 0)

	good := &Pipeline{Fetcher: &FileFetcher{Path: writeArchive(t, standardEntries()...)}, Loader: store}
	if _, err := good.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	blocks, locations, names, err := store.CountGeoData(context.Background())
	if err != nil {
		t.Fatalf("CountGeoData: %v", err)
	}

	truncated := &Pipeline{
		Fetcher: &FileFetcher{Path: writeArchive(t,
			archiveEntry{name: "x/GeoLite2-City-Locations-en.csv", body: locationsEN},
			archiveEntry{name: "x/GeoLite2-City-Blocks-IPv4.csv", body: blocksHeader},
		)},
		Loader: store,
	}
	_, err = truncated.Run(context.Background())
	if !errors.Is(err, ErrEmptyMember) {
		t.Fatalf("error = %v, want ErrEmptyMember", err)
	}
	if stage, ok := StageOf(err); !ok || stage != StageNormalize {
		t.Fatalf("stage = %q (%v), want normalize", stage, ok)
	}

	gotBlocks, gotLocations, gotNames, err := store.CountGeoData(context.Background())
	if err != nil {
		t.Fatalf("CountGeoData: %v", err)
	}
	if gotBlocks != blocks || gotLocations != locations || gotNames != names {
		t.Fatalf("counts = %d/%d/%d, want %d/%d/%d unchanged", gotBlocks, gotLocations, gotNames, blocks, locations, names)
	}
	if _, err := store.LookupIP(context.Background(), 1<<24|2<<16|3<<8|200, ""); err != nil {
		t.Fatalf("previous block no longer visible: %v", err)
	}
}
