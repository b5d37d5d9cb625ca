package domain

import "time"

// LoadMetaID is the key of the single tbl_geo_meta row.
const LoadMetaID = 1

// LoadMeta describes the block set written by the last successful load.
// MaxBlockSpan is the largest EndIP-StartIP of any stored block and bounds
// how far below an address a containing block can start.
type LoadMeta struct {
	ID           uint8     `gorm:"column:meta_id;primaryKey;autoIncrement:false" json:"-"`
	MaxBlockSpan uint32    `gorm:"column:meta_max_block_span;type:bigint;not null" json:"max_block_span"`
	Blocks       int64     `gorm:"column:meta_blocks;not null" json:"blocks"`
	LoadedAt     time.Time `gorm:"column:meta_loaded_at;not null" json:"loaded_at"`
}

func (LoadMeta) TableName() string {
	return "tbl_geo_meta"
}

// MaxBlockSpan returns the largest EndIP-StartIP among blocks.
func MaxBlockSpan(blocks []Block) uint32 {
	var span uint32
	for _, block := range blocks {
		span = max(span, block.EndIP-block.StartIP)
	}
	return span
}
