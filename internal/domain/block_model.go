package domain

// Block is an IPv4 range derived from a CIDR network. StartIP and EndIP are
// inclusive and StartIP <= EndIP.
type Block struct {
	StartIP                      uint32   `gorm:"column:block_start_ip;type:bigint;not null;index" json:"start_ip"`
	EndIP                        uint32   `gorm:"column:block_end_ip;type:bigint;not null" json:"end_ip"`
	Network                      string   `gorm:"column:block_network;size:18;not null" json:"network"`
	LocationID                   *uint64  `gorm:"column:block_location_id" json:"location_id,omitempty"`
	RegisteredCountryLocationID  *uint64  `gorm:"column:block_registered_country_location_id" json:"registered_country_location_id,omitempty"`
	RepresentedCountryLocationID *uint64  `gorm:"column:block_represented_country_location_id" json:"represented_country_location_id,omitempty"`
	AnonymousProxy               bool     `gorm:"column:block_anonymous_proxy;not null" json:"anonymous_proxy"`
	SatelliteProvider            bool     `gorm:"column:block_satellite_provider;not null" json:"satellite_provider"`
	PostalCode                   *string  `gorm:"column:block_postal_code;size:32" json:"postal_code,omitempty"`
	Latitude                     *float64 `gorm:"column:block_latitude" json:"latitude,omitempty"`
	Longitude                    *float64 `gorm:"column:block_longitude" json:"longitude,omitempty"`
}

func (Block) TableName() string {
	return "tbl_geo_block"
}

// Contains reports whether ip lies inside the inclusive block range.
func (b Block) Contains(ip uint32) bool {
	return b.StartIP <= ip && ip <= b.EndIP
}

// BlockColumns lists the destination columns in insert order.
var BlockColumns = []string{
	"block_start_ip",
	"block_end_ip",
	"block_network",
	"block_location_id",
	"block_registered_country_location_id",
	"block_represented_country_location_id",
	"block_anonymous_proxy",
	"block_satellite_provider",
	"block_postal_code",
	"block_latitude",
	"block_longitude",
}
