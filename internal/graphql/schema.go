package graphql

import (
	"context"
	"errors"
	"strconv"

	gql "github.com/graphql-go/graphql"

	"geoipd/internal/database"
	"geoipd/internal/domain"
	"geoipd/internal/geolite"
)

// Locator is the lookup surface the schema needs; *geolite.Locator
// satisfies it.
type Locator interface {
	Lookup(ctx context.Context, ip string, lang string) (*domain.GeoIP, error)
}

// LookupHook is called after each lookup with its outcome.
type LookupHook func(outcome string)

// NewSchema builds the query schema around locator. An address that no block
// covers resolves to null instead of an error.
func NewSchema(locator Locator, hook LookupHook) (gql.Schema, error) {
	if locator == nil {
		return gql.Schema{}, errors.New("graphql: locator is required")
	}
	if hook == nil {
		hook = func(string) {}
	}

	locationType := gql.NewObject(gql.ObjectConfig{
		Name: "Location",
		Fields: gql.Fields{
			"id":               &gql.Field{Type: gql.NewNonNull(gql.String)},
			"continentCode":    &gql.Field{Type: gql.String},
			"countryCode":      &gql.Field{Type: gql.String},
			"subdivision1Code": &gql.Field{Type: gql.String},
			"subdivision2Code": &gql.Field{Type: gql.String},
			"city":             &gql.Field{Type: gql.String},
			"metroCode":        &gql.Field{Type: gql.String},
			"timezone":         &gql.Field{Type: gql.String},
		},
	})

	namesType := gql.NewObject(gql.ObjectConfig{
		Name: "LocalizedNames",
		Fields: gql.Fields{
			"language":     &gql.Field{Type: gql.NewNonNull(gql.String)},
			"continent":    &gql.Field{Type: gql.String},
			"country":      &gql.Field{Type: gql.String},
			"subdivision1": &gql.Field{Type: gql.String},
			"subdivision2": &gql.Field{Type: gql.String},
		},
	})

	geoIPType := gql.NewObject(gql.ObjectConfig{
		Name: "GeoIP",
		Fields: gql.Fields{
			"ip":                           &gql.Field{Type: gql.NewNonNull(gql.String)},
			"network":                      &gql.Field{Type: gql.NewNonNull(gql.String)},
			"startIp":                      &gql.Field{Type: gql.NewNonNull(gql.String)},
			"endIp":                        &gql.Field{Type: gql.NewNonNull(gql.String)},
			"locationId":                   &gql.Field{Type: gql.String},
			"registeredCountryLocationId":  &gql.Field{Type: gql.String},
			"representedCountryLocationId": &gql.Field{Type: gql.String},
			"anonymousProxy":               &gql.Field{Type: gql.NewNonNull(gql.Boolean)},
			"satelliteProvider":            &gql.Field{Type: gql.NewNonNull(gql.Boolean)},
			"postalCode":                   &gql.Field{Type: gql.String},
			"latitude":                     &gql.Field{Type: gql.Float},
			"longitude":                    &gql.Field{Type: gql.Float},
			"location":                     &gql.Field{Type: locationType},
			"names":                        &gql.Field{Type: namesType},
		},
	})

	queryType := gql.NewObject(gql.ObjectConfig{
		Name: "Query",
		Fields: gql.Fields{
			"lookup": &gql.Field{
				Type: geoIPType,
				Args: gql.FieldConfigArgument{
					"ip":   &gql.ArgumentConfig{Type: gql.String},
					"lang": &gql.ArgumentConfig{Type: gql.String},
				},
				Resolve: func(p gql.ResolveParams) (interface{}, error) {
					ip, _ := p.Args["ip"].(string)
					if ip == "" {
						ip = ClientIPFromContext(p.Context)
					}
					lang, _ := p.Args["lang"].(string)

					result, err := locator.Lookup(p.Context, ip, lang)
					switch {
					case errors.Is(err, database.ErrNotFound):
						hook("not_found")
						return nil, nil
					case errors.Is(err, geolite.ErrInvalidIP):
						hook("invalid")
						return nil, err
					case err != nil:
						hook("error")
						return nil, err
					}
					hook("found")
					return buildGeoIP(result), nil
				},
			},
		},
	})

	return gql.NewSchema(gql.SchemaConfig{Query: queryType})
}

func buildGeoIP(result *domain.GeoIP) map[string]interface{} {
	block := result.Block
	data := map[string]interface{}{
		"ip":                           result.IP,
		"network":                      block.Network,
		"startIp":                      geolite.Uint32ToIPv4(block.StartIP).String(),
		"endIp":                        geolite.Uint32ToIPv4(block.EndIP).String(),
		"locationId":                   optionalID(block.LocationID),
		"registeredCountryLocationId":  optionalID(block.RegisteredCountryLocationID),
		"representedCountryLocationId": optionalID(block.RepresentedCountryLocationID),
		"anonymousProxy":               block.AnonymousProxy,
		"satelliteProvider":            block.SatelliteProvider,
		"postalCode":                   block.PostalCode,
		"latitude":                     block.Latitude,
		"longitude":                    block.Longitude,
	}

	if loc := result.Location; loc != nil {
		data["location"] = map[string]interface{}{
			"id":               strconv.FormatUint(loc.ID, 10),
			"continentCode":    loc.ContinentCode,
			"countryCode":      loc.CountryCode,
			"subdivision1Code": loc.Subdivision1Code,
			"subdivision2Code": loc.Subdivision2Code,
			"city":             loc.City,
			"metroCode":        loc.MetroCode,
			"timezone":         loc.Timezone,
		}
	}

	if names := result.Names; names != nil {
		data["names"] = map[string]interface{}{
			"language":     names.Language,
			"continent":    names.Continent,
			"country":      names.Country,
			"subdivision1": names.Subdivision1,
			"subdivision2": names.Subdivision2,
		}
	}

	return data
}

// IDs are strings because GraphQL Int is 32-bit.
func optionalID(id *uint64) interface{} {
	if id == nil {
		return nil
	}
	return strconv.FormatUint(*id, 10)
}
