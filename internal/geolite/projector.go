package geolite

import (
	"fmt"
	"strconv"

	"geoipd/internal/domain"
)

type Kind string

const (
	KindLocation Kind = "location"
	KindBlock    Kind = "block"
)

// Field copies source column Index into destination Column. A non-empty
// Default replaces an empty source value; otherwise empty means absent.
type Field struct {
	Index   int
	Column  string
	Default string
}

type Projection struct {
	Kind   Kind
	Fields []Field
}

// LocationProjection maps a GeoLite2 City location row onto tbl_geo_location.
var LocationProjection = Projection{
	Kind: KindLocation,
	Fields: []Field{
		{Index: 0, Column: "location_id"},
		{Index: 2, Column: "location_continent"},
		{Index: 4, Column: "location_country"},
		{Index: 6, Column: "location_subdivision_1"},
		{Index: 8, Column: "location_subdivision_2"},
		{Index: 10, Column: "location_city"},
		{Index: 11, Column: "location_metro"},
		{Index: 12, Column: "location_timezone"},
	},
}

// BlockProjection runs over the augmented row [start, end, source columns...].
var BlockProjection = Projection{
	Kind: KindBlock,
	Fields: []Field{
		{Index: 0, Column: "block_start_ip"},
		{Index: 1, Column: "block_end_ip"},
		{Index: 2, Column: "block_network"},
		{Index: 3, Column: "block_location_id"},
		{Index: 4, Column: "block_registered_country_location_id"},
		{Index: 5, Column: "block_represented_country_location_id"},
		{Index: 6, Column: "block_anonymous_proxy", Default: "0"},
		{Index: 7, Column: "block_satellite_provider", Default: "0"},
		{Index: 8, Column: "block_postal_code"},
		{Index: 9, Column: "block_latitude"},
		{Index: 10, Column: "block_longitude"},
	},
}

// Record holds projected values in Fields order. A nil entry is absent.
type Record struct {
	Kind   Kind
	Values []*string
}

// Project selects the configured columns from row.
func (p Projection) Project(row []string) (Record, error) {
	values := make([]*string, len(p.Fields))
	for i, field := range p.Fields {
		if field.Index < 0 || field.Index >= len(row) {
			return Record{}, fmt.Errorf("%w: %s column %q wants index %d, row has %d columns",
				ErrColumnIndexOutOfRange, p.Kind, field.Column, field.Index, len(row))
		}

		value := row[field.Index]
		if value == "" {
			value = field.Default
		}
		if value == "" {
			continue
		}
		values[i] = &value
	}
	return Record{Kind: p.Kind, Values: values}, nil
}

// Columns returns the destination column names in insert order.
func (p Projection) Columns() []string {
	columns := make([]string, len(p.Fields))
	for i, field := range p.Fields {
		columns[i] = field.Column
	}
	return columns
}

// ToLocation converts a record built by LocationProjection.
func (r Record) ToLocation() (domain.Location, error) {
	if r.Kind != KindLocation || len(r.Values) != len(LocationProjection.Fields) {
		return domain.Location{}, fmt.Errorf("geolite: record of kind %s is not a location", r.Kind)
	}

	id, err := parseRequiredUint(r.Values[0], "location_id")
	if err != nil {
		return domain.Location{}, err
	}

	return domain.Location{
		ID:               id,
		ContinentCode:    r.Values[1],
		CountryCode:      r.Values[2],
		Subdivision1Code: r.Values[3],
		Subdivision2Code: r.Values[4],
		City:             r.Values[5],
		MetroCode:        r.Values[6],
		Timezone:         r.Values[7],
	}, nil
}

// ToBlock converts a record built by BlockProjection.
func (r Record) ToBlock() (domain.Block, error) {
	if r.Kind != KindBlock || len(r.Values) != len(BlockProjection.Fields) {
		return domain.Block{}, fmt.Errorf("geolite: record of kind %s is not a block", r.Kind)
	}

	var (
		block domain.Block
		err   error
	)

	start, err := parseRequiredUint(r.Values[0], "block_start_ip")
	if err != nil {
		return block, err
	}
	end, err := parseRequiredUint(r.Values[1], "block_end_ip")
	if err != nil {
		return block, err
	}
	if start > end || end > 0xFFFFFFFF {
		return block, fmt.Errorf("%w: block range %d-%d", ErrMalformedValue, start, end)
	}
	block.StartIP = uint32(start)
	block.EndIP = uint32(end)

	if r.Values[2] != nil {
		block.Network = *r.Values[2]
	}

	if block.LocationID, err = parseOptionalUint(r.Values[3], "block_location_id"); err != nil {
		return block, err
	}
	if block.RegisteredCountryLocationID, err = parseOptionalUint(r.Values[4], "block_registered_country_location_id"); err != nil {
		return block, err
	}
	if block.RepresentedCountryLocationID, err = parseOptionalUint(r.Values[5], "block_represented_country_location_id"); err != nil {
		return block, err
	}
	if block.AnonymousProxy, err = parseFlag(r.Values[6], "block_anonymous_proxy"); err != nil {
		return block, err
	}
	if block.SatelliteProvider, err = parseFlag(r.Values[7], "block_satellite_provider"); err != nil {
		return block, err
	}

	block.PostalCode = r.Values[8]

	if block.Latitude, err = parseOptionalFloat(r.Values[9], "block_latitude"); err != nil {
		return block, err
	}
	if block.Longitude, err = parseOptionalFloat(r.Values[10], "block_longitude"); err != nil {
		return block, err
	}

	return block, nil
}

func parseRequiredUint(value *string, column string) (uint64, error) {
	if value == nil {
		return 0, fmt.Errorf("%w: %s is empty", ErrMalformedValue, column)
	}
	parsed, err := strconv.ParseUint(*value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedValue, column, *value)
	}
	return parsed, nil
}

func parseOptionalUint(value *string, column string) (*uint64, error) {
	if value == nil {
		return nil, nil
	}
	parsed, err := parseRequiredUint(value, column)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalFloat(value *string, column string) (*float64, error) {
	if value == nil {
		return nil, nil
	}
	parsed, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrMalformedValue, column, *value)
	}
	return &parsed, nil
}

func parseFlag(value *string, column string) (bool, error) {
	if value == nil {
		return false, nil
	}
	switch *value {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: %s %q is not 0 or 1", ErrMalformedValue, column, *value)
}
