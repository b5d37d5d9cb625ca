package domain

// GeoIP is the combined answer of a lookup: the containing block joined with
// its location. Location is nil when the block references no location.
type GeoIP struct {
	IP       string    `json:"ip"`
	Block    Block     `json:"block"`
	Location *Location `json:"location,omitempty"`

	// Names holds localized names when a language was requested.
	Names *LocationNames `json:"names,omitempty"`
}

type LocationNames struct {
	Language     string  `json:"language"`
	Continent    *string `json:"continent,omitempty"`
	Country      *string `json:"country,omitempty"`
	Subdivision1 *string `json:"subdivision_1,omitempty"`
	Subdivision2 *string `json:"subdivision_2,omitempty"`
}

// Empty reports whether no localized name was found.
func (n *LocationNames) Empty() bool {
	return n == nil || (n.Continent == nil && n.Country == nil && n.Subdivision1 == nil && n.Subdivision2 == nil)
}
