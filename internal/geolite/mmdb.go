package geolite

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"geoipd/internal/database"
	"geoipd/internal/domain"
)

// MMDBResolver answers lookups from a GeoLite2-City .mmdb file. Results have
// the same shape as store lookups so both can be compared.
type MMDBResolver struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
	path   string
}

func OpenMMDB(path string) (*MMDBResolver, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geolite: open mmdb %s: %w", path, err)
	}
	log.Debug("Opened mmdb", "path", path, "type", reader.Metadata.DatabaseType, "build", reader.Metadata.BuildEpoch)
	return &MMDBResolver{reader: reader, path: path}, nil
}

func (m *MMDBResolver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reader == nil {
		return nil
	}
	err := m.reader.Close()
	m.reader = nil
	return err
}

func (m *MMDBResolver) LookupIP(ctx context.Context, ip uint32, lang string) (*domain.GeoIP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reader == nil {
		return nil, fmt.Errorf("geolite: mmdb %s is closed", m.path)
	}

	var record geoip2.City
	network, ok, err := m.reader.LookupNetwork(Uint32ToIPv4(ip), &record)
	if err != nil {
		return nil, fmt.Errorf("geolite: mmdb lookup: %w", err)
	}
	if !ok {
		return nil, database.ErrNotFound
	}

	span, _ := NetworkRange(network)
	block := domain.Block{
		StartIP:                      span.Start,
		EndIP:                        span.End,
		Network:                      network.String(),
		LocationID:                   geoNameID(record.City.GeoNameID),
		RegisteredCountryLocationID:  geoNameID(record.RegisteredCountry.GeoNameID),
		RepresentedCountryLocationID: geoNameID(record.RepresentedCountry.GeoNameID),
		AnonymousProxy:               record.Traits.IsAnonymousProxy,
		SatelliteProvider:            record.Traits.IsSatelliteProvider,
		PostalCode:                   optional(record.Postal.Code),
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		block.Latitude = &lat
		block.Longitude = &lon
	}
	if block.LocationID == nil {
		block.LocationID = geoNameID(record.Country.GeoNameID)
	}

	result := &domain.GeoIP{Block: block, Location: mmdbLocation(&record)}
	if lang != "" && result.Location != nil {
		names := mmdbNames(&record, lang)
		if !names.Empty() {
			result.Names = names
		}
	}
	return result, nil
}

func mmdbLocation(record *geoip2.City) *domain.Location {
	id := record.City.GeoNameID
	if id == 0 {
		id = record.Country.GeoNameID
	}
	if id == 0 {
		id = record.RegisteredCountry.GeoNameID
	}
	if id == 0 {
		return nil
	}

	location := &domain.Location{
		ID:            uint64(id),
		ContinentCode: optional(record.Continent.Code),
		CountryCode:   optional(record.Country.IsoCode),
		City:          optional(record.City.Names[englishLanguage]),
		Timezone:      optional(record.Location.TimeZone),
	}
	if record.Location.MetroCode != 0 {
		location.MetroCode = optional(strconv.FormatUint(uint64(record.Location.MetroCode), 10))
	}
	if len(record.Subdivisions) > 0 {
		location.Subdivision1Code = optional(record.Subdivisions[0].IsoCode)
	}
	if len(record.Subdivisions) > 1 {
		location.Subdivision2Code = optional(record.Subdivisions[1].IsoCode)
	}
	return location
}

func mmdbNames(record *geoip2.City, lang string) *domain.LocationNames {
	names := &domain.LocationNames{
		Language:  lang,
		Continent: optional(record.Continent.Names[lang]),
		Country:   optional(record.Country.Names[lang]),
	}
	if len(record.Subdivisions) > 0 {
		names.Subdivision1 = optional(record.Subdivisions[0].Names[lang])
	}
	if len(record.Subdivisions) > 1 {
		names.Subdivision2 = optional(record.Subdivisions[1].Names[lang])
	}
	return names
}

func geoNameID(id uint) *uint64 {
	if id == 0 {
		return nil
	}
	v := uint64(id)
	return &v
}
