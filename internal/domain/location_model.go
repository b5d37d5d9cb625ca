package domain

// Location is one place of the English location table. Every field except
// the id may be absent for global or anonymous entries.
type Location struct {
	ID               uint64  `gorm:"column:location_id;primaryKey;autoIncrement:false" json:"id"`
	ContinentCode    *string `gorm:"column:location_continent;size:2" json:"continent_code,omitempty"`
	CountryCode      *string `gorm:"column:location_country;size:2;index" json:"country_code,omitempty"`
	Subdivision1Code *string `gorm:"column:location_subdivision_1;size:3" json:"subdivision_1_code,omitempty"`
	Subdivision2Code *string `gorm:"column:location_subdivision_2;size:3" json:"subdivision_2_code,omitempty"`
	City             *string `gorm:"column:location_city;size:255" json:"city,omitempty"`
	MetroCode        *string `gorm:"column:location_metro;size:16" json:"metro_code,omitempty"`
	Timezone         *string `gorm:"column:location_timezone;size:64" json:"timezone,omitempty"`
}

func (Location) TableName() string {
	return "tbl_geo_location"
}

// LocationColumns lists the destination columns in insert order.
var LocationColumns = []string{
	"location_id",
	"location_continent",
	"location_country",
	"location_subdivision_1",
	"location_subdivision_2",
	"location_city",
	"location_metro",
	"location_timezone",
}
