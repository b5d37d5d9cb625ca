package database

import (
	"context"
	"fmt"
	"time"

	"geoipd/internal/domain"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

const defaultBatchSize = 5000

// Placeholder limits per statement. sqlite builds from 3.32 on allow 32766.
var maxParamsPerDialect = map[string]int{
	dialectPostgres: 65535,
	dialectMySQL:    65535,
	dialectSQLite:   32766,
}

// GeoData is one complete replacement of the geo tables.
type GeoData struct {
	Blocks    []domain.Block
	Locations []domain.Location
	Names     []domain.LocalizedName
}

// BatchProgress is told about every committed insert batch.
type BatchProgress interface {
	BatchLoaded(table string, loaded, total int)
}

type TableStats struct {
	Rows    int
	Batches int
}

type LoadStats struct {
	Locations TableStats
	Blocks    TableStats
	Names     TableStats
	Duration  time.Duration
}

func (s LoadStats) Batches() int {
	return s.Locations.Batches + s.Blocks.Batches + s.Names.Batches
}

// ReplaceGeoData deletes every block, location and name and inserts data in
// one transaction together with the LoadMeta row lookups use to bound their
// range scans. On any error the transaction is rolled back and the
// previous tables stay visible.
func (s *Store) ReplaceGeoData(ctx context.Context, data GeoData, progress BatchProgress) (LoadStats, error) {
	if s == nil || s.db == nil {
		return LoadStats{}, fmt.Errorf("%w: database not initialised", ErrStore)
	}
	if progress == nil {
		progress = noProgress{}
	}

	started := time.Now()
	var stats LoadStats

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{domain.Block{}.TableName(), domain.Location{}.TableName(), domain.LocalizedName{}.TableName(), domain.LoadMeta{}.TableName()} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		var err error
		if stats.Locations, err = insertInBatches(tx, domain.Location{}.TableName(), data.Locations, s.batchSizeFor(len(domain.LocationColumns)), progress); err != nil {
			return err
		}
		if stats.Blocks, err = insertInBatches(tx, domain.Block{}.TableName(), data.Blocks, s.batchSizeFor(len(domain.BlockColumns)), progress); err != nil {
			return err
		}
		if stats.Names, err = insertInBatches(tx, domain.LocalizedName{}.TableName(), data.Names, s.batchSizeFor(len(domain.NameColumns)), progress); err != nil {
			return err
		}

		meta := domain.LoadMeta{
			ID:           domain.LoadMetaID,
			MaxBlockSpan: domain.MaxBlockSpan(data.Blocks),
			Blocks:       int64(len(data.Blocks)),
			LoadedAt:     time.Now().UTC(),
		}
		if err := tx.Create(&meta).Error; err != nil {
			return fmt.Errorf("record load meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return LoadStats{}, fmt.Errorf("%w: replace geo data: %w", ErrStore, err)
	}

	stats.Duration = time.Since(started)
	log.Info("Replaced geo data",
		"locations", stats.Locations.Rows,
		"blocks", stats.Blocks.Rows,
		"names", stats.Names.Rows,
		"batches", stats.Batches(),
		"duration", stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func insertInBatches[T any](tx *gorm.DB, table string, rows []T, size int, progress BatchProgress) (TableStats, error) {
	var stats TableStats
	total := len(rows)

	for start := 0; start < total; start += size {
		end := min(start+size, total)
		batch := rows[start:end]
		if err := tx.Table(table).Create(&batch).Error; err != nil {
			return stats, fmt.Errorf("insert %s rows %d-%d: %w", table, start, end, err)
		}
		stats.Rows = end
		stats.Batches++
		progress.BatchLoaded(table, end, total)
	}

	return stats, nil
}

// batchSizeFor caps the configured batch size so one statement stays below
// the dialect's placeholder limit.
func (s *Store) batchSizeFor(columns int) int {
	size := s.batchSize
	if limit, ok := maxParamsPerDialect[s.db.Dialector.Name()]; ok && columns > 0 {
		if capped := limit / columns; size > capped {
			size = capped
		}
	}
	return size
}

type noProgress struct{}

func (noProgress) BatchLoaded(string, int, int) {}
