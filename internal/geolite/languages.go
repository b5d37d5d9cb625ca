package geolite

import (
	"regexp"
	"sort"
	"strings"

	"geoipd/internal/domain"
)

// NameKey identifies a localized name. Subdivision codes are qualified by
// their parents: "US/CA" and "GB/ENG/LND".
type NameKey struct {
	Kind domain.NameKind
	Code string
}

// LanguageTable maps language -> key -> name. A nil name means the source row
// carried the code but no translation.
type LanguageTable map[string]map[NameKey]*string

var localesPattern = regexp.MustCompile(`(?i)-Locations-([A-Za-z-]+)\.csv$`)

// LanguageFromMember extracts the language code of a locations member name.
func LanguageFromMember(name string) (string, bool) {
	match := localesPattern.FindStringSubmatch(name)
	if match == nil {
		return "", false
	}
	return match[1], true
}

func (t LanguageTable) Set(language string, key NameKey, name *string) {
	names, ok := t[language]
	if !ok {
		names = make(map[NameKey]*string)
		t[language] = names
	}
	names[key] = name
}

// Name returns the translation of key in language. ok is false when no entry
// exists or the entry has no text.
func (t LanguageTable) Name(language string, key NameKey) (string, bool) {
	name := t[language][key]
	if name == nil {
		return "", false
	}
	return *name, true
}

// Merge copies other into t. Entries of other win.
func (t LanguageTable) Merge(other LanguageTable) {
	for language, names := range other {
		for key, name := range names {
			t.Set(language, key, name)
		}
	}
}

func (t LanguageTable) Languages() []string {
	languages := make([]string, 0, len(t))
	for language := range t {
		languages = append(languages, language)
	}
	sort.Strings(languages)
	return languages
}

// Len counts entries over all languages.
func (t LanguageTable) Len() int {
	total := 0
	for _, names := range t {
		total += len(names)
	}
	return total
}

// Records flattens the table into rows for tbl_geo_name, sorted by language,
// kind and code.
func (t LanguageTable) Records() []domain.LocalizedName {
	records := make([]domain.LocalizedName, 0, t.Len())
	for language, names := range t {
		for key, name := range names {
			records = append(records, domain.LocalizedName{
				Language: language,
				Kind:     key.Kind,
				Code:     key.Code,
				Value:    name,
			})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Code < b.Code
	})
	return records
}

// SubdivisionCode joins a country code with subdivision codes.
func SubdivisionCode(parts ...string) string {
	return strings.Join(parts, "/")
}

// addLocationRow records the names of one locations row. Row must already be
// validated by LocationProjection.
func (t LanguageTable) addLocationRow(language string, row []string) {
	continent := row[2]
	country := row[4]
	sub1 := row[6]
	sub2 := row[8]

	if continent != "" {
		t.Set(language, NameKey{Kind: domain.NameKindContinent, Code: continent}, optional(row[3]))
	}
	if country == "" {
		return
	}
	t.Set(language, NameKey{Kind: domain.NameKindCountry, Code: country}, optional(row[5]))

	if sub1 == "" {
		return
	}
	t.Set(language, NameKey{Kind: domain.NameKindSubdivision1, Code: SubdivisionCode(country, sub1)}, optional(row[7]))

	if sub2 == "" {
		return
	}
	t.Set(language, NameKey{Kind: domain.NameKindSubdivision2, Code: SubdivisionCode(country, sub1, sub2)}, optional(row[9]))
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
