package database

import (
	"context"
	"fmt"
	"strings"

	"geoipd/internal/domain"

	"gorm.io/gorm"
)

// lookupRow is one block joined with its location. Location columns are
// pointers because the join is a LEFT JOIN.
type lookupRow struct {
	domain.Block `gorm:"embedded"`

	JoinedID           *uint64 `gorm:"column:location_id"`
	JoinedContinent    *string `gorm:"column:location_continent"`
	JoinedCountry      *string `gorm:"column:location_country"`
	JoinedSubdivision1 *string `gorm:"column:location_subdivision_1"`
	JoinedSubdivision2 *string `gorm:"column:location_subdivision_2"`
	JoinedCity         *string `gorm:"column:location_city"`
	JoinedMetro        *string `gorm:"column:location_metro"`
	JoinedTimezone     *string `gorm:"column:location_timezone"`
}

func (r lookupRow) location() *domain.Location {
	if r.JoinedID == nil {
		return nil
	}
	return &domain.Location{
		ID:               *r.JoinedID,
		ContinentCode:    r.JoinedContinent,
		CountryCode:      r.JoinedCountry,
		Subdivision1Code: r.JoinedSubdivision1,
		Subdivision2Code: r.JoinedSubdivision2,
		City:             r.JoinedCity,
		MetroCode:        r.JoinedMetro,
		Timezone:         r.JoinedTimezone,
	}
}

const lookupSelect = `SELECT b.*,
	l.location_id, l.location_continent, l.location_country,
	l.location_subdivision_1, l.location_subdivision_2,
	l.location_city, l.location_metro, l.location_timezone
FROM tbl_geo_block b
LEFT JOIN tbl_geo_location l
	ON l.location_id = COALESCE(b.block_location_id, b.block_registered_country_location_id)
`

// candidateQuery reads the single block with the greatest start <= ip, one
// step down the start index whether or not the block contains ip.
const candidateQuery = lookupSelect + `WHERE b.block_start_ip <= ?
ORDER BY b.block_start_ip DESC
LIMIT 1`

// coveringQuery only visits starts in [ip-maxSpan, ip].
const coveringQuery = lookupSelect + `WHERE b.block_start_ip <= ? AND b.block_start_ip >= ? AND b.block_end_ip >= ?
ORDER BY b.block_start_ip DESC
LIMIT 1`

// LookupIP returns the block containing ip joined with its location. When
// ranges overlap the block with the greatest start address wins. lang, when
// set, attaches localized names from tbl_geo_name.
func (s *Store) LookupIP(ctx context.Context, ip uint32, lang string) (*domain.GeoIP, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("%w: database not initialised", ErrStore)
	}

	db := s.db.WithContext(ctx)

	var rows []lookupRow
	if err := db.Raw(candidateQuery, ip).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: lookup %d: %w", ErrStore, ip, err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	if !rows[0].Block.Contains(ip) {
		// A wider block with a lower start may still cover ip.
		lower, err := s.lowestCoveringStart(db, ip)
		if err != nil {
			return nil, err
		}
		if rows[0].Block.StartIP < lower {
			return nil, ErrNotFound
		}
		rows = rows[:0]
		if err := db.Raw(coveringQuery, ip, lower, ip).Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("%w: lookup %d: %w", ErrStore, ip, err)
		}
		if len(rows) == 0 {
			return nil, ErrNotFound
		}
	}

	row := rows[0]
	result := &domain.GeoIP{
		Block:    row.Block,
		Location: row.location(),
	}

	if lang != "" && result.Location != nil {
		names, err := s.localizedNames(db, lang, result.Location)
		if err != nil {
			return nil, err
		}
		if !names.Empty() {
			result.Names = names
		}
	}

	return result, nil
}

// lowestCoveringStart returns the smallest start address a block containing
// ip can have. Without a recorded span every lower start is a candidate.
func (s *Store) lowestCoveringStart(db *gorm.DB, ip uint32) (uint32, error) {
	meta, err := s.loadMeta(db)
	if err != nil {
		return 0, err
	}
	if meta == nil || meta.MaxBlockSpan >= ip {
		return 0, nil
	}
	return ip - meta.MaxBlockSpan, nil
}

func (s *Store) loadMeta(db *gorm.DB) (*domain.LoadMeta, error) {
	var metas []domain.LoadMeta
	if err := db.Where("meta_id = ?", domain.LoadMetaID).Limit(1).Find(&metas).Error; err != nil {
		return nil, fmt.Errorf("%w: load meta: %w", ErrStore, err)
	}
	if len(metas) == 0 {
		return nil, nil
	}
	return &metas[0], nil
}

func (s *Store) localizedNames(db *gorm.DB, lang string, location *domain.Location) (*domain.LocationNames, error) {
	keys := nameKeys(location)
	if len(keys) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		clauses = append(clauses, "(name_kind = ? AND name_code = ?)")
		args = append(args, key.Kind, key.Code)
	}

	var entries []domain.LocalizedName
	err := db.Model(&domain.LocalizedName{}).
		Where("name_language = ?", lang).
		Where("(" + strings.Join(clauses, " OR ") + ")", args...).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("%w: localized names: %w", ErrStore, err)
	}

	names := &domain.LocationNames{Language: lang}
	for _, entry := range entries {
		switch entry.Kind {
		case domain.NameKindContinent:
			names.Continent = entry.Value
		case domain.NameKindCountry:
			names.Country = entry.Value
		case domain.NameKindSubdivision1:
			names.Subdivision1 = entry.Value
		case domain.NameKindSubdivision2:
			names.Subdivision2 = entry.Value
		}
	}
	return names, nil
}

type nameKey struct {
	Kind domain.NameKind
	Code string
}

func nameKeys(location *domain.Location) []nameKey {
	var keys []nameKey
	if location.ContinentCode != nil {
		keys = append(keys, nameKey{Kind: domain.NameKindContinent, Code: *location.ContinentCode})
	}
	if location.CountryCode == nil {
		return keys
	}
	country := *location.CountryCode
	keys = append(keys, nameKey{Kind: domain.NameKindCountry, Code: country})

	if location.Subdivision1Code == nil {
		return keys
	}
	sub1 := country + "/" + *location.Subdivision1Code
	keys = append(keys, nameKey{Kind: domain.NameKindSubdivision1, Code: sub1})

	if location.Subdivision2Code != nil {
		keys = append(keys, nameKey{Kind: domain.NameKindSubdivision2, Code: sub1 + "/" + *location.Subdivision2Code})
	}
	return keys
}

// CountGeoData reports the number of rows in each geo table.
func (s *Store) CountGeoData(ctx context.Context) (blocks, locations, names int64, err error) {
	db := s.db.WithContext(ctx)
	if err = db.Model(&domain.Block{}).Count(&blocks).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count blocks: %w", ErrStore, err)
	}
	if err = db.Model(&domain.Location{}).Count(&locations).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count locations: %w", ErrStore, err)
	}
	if err = db.Model(&domain.LocalizedName{}).Count(&names).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("%w: count names: %w", ErrStore, err)
	}
	return blocks, locations, names, nil
}
