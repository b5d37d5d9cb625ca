package domain

// NameKind identifies which code a localized name belongs to.
type NameKind string

const (
	NameKindContinent    NameKind = "continent"
	NameKindCountry      NameKind = "country"
	NameKindSubdivision1 NameKind = "subdivision_1"
	NameKindSubdivision2 NameKind = "subdivision_2"
)

// LocalizedName is one persisted entry of the language table. Code is the
// canonical code, with subdivisions qualified by their parents ("US/CA").
type LocalizedName struct {
	Language string   `gorm:"column:name_language;size:8;primaryKey" json:"language"`
	Kind     NameKind `gorm:"column:name_kind;size:16;primaryKey" json:"kind"`
	Code     string   `gorm:"column:name_code;size:16;primaryKey" json:"code"`
	Value    *string  `gorm:"column:name_value;size:255" json:"value,omitempty"`
}

func (LocalizedName) TableName() string {
	return "tbl_geo_name"
}

var NameColumns = []string{
	"name_language",
	"name_kind",
	"name_code",
	"name_value",
}
