package geolite

import (
	"testing"

	"geoipd/internal/domain"
)

func TestLanguageFromMember(t *testing.T) {
	tests := map[string]string{
		"GeoLite2-City-CSV_20240101/GeoLite2-City-Locations-en.csv":    "en",
		"GeoLite2-City-CSV_20240101/GeoLite2-City-Locations-pt-BR.csv": "pt-BR",
		"GeoLite2-City-Locations-zh-CN.csv":                            "zh-CN",
	}
	for name, want := range tests {
		if got, ok := LanguageFromMember(name); !ok || got != want {
			t.Errorf("LanguageFromMember(%q) = %q, %v; want %q", name, got, ok, want)
		}
	}

	if _, ok := LanguageFromMember("GeoLite2-City-Blocks-IPv4.csv"); ok {
		t.Error("block member reported a language")
	}
}

func TestLanguageTableLastWriteWins(t *testing.T) {
	table := make(LanguageTable)
	key := NameKey{Kind: domain.NameKindCountry, Code: "DE"}

	first, second := "Germany", "Federal Republic of Germany"
	table.Set("en", key, &first)
	table.Set("en", key, &second)
	german := "Deutschland"
	table.Set("de", key, &german)

	if got, _ := table.Name("en", key); got != second {
		t.Fatalf("en name = %q, want %q", got, second)
	}
	if got, _ := table.Name("de", key); got != german {
		t.Fatalf("de name = %q, want %q", got, german)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}
}

func TestLanguageTableSubdivisionsNeedParents(t *testing.T) {
	table := make(LanguageTable)

	// subdivision without a country is dropped
	table.addLocationRow("en", []string{"1", "en", "EU", "Europe", "", "", "X1", "Orphan", "", "", "", "", ""})
	// subdivision 2 without subdivision 1 is dropped
	table.addLocationRow("en", []string{"2", "en", "EU", "Europe", "GB", "United Kingdom", "", "", "LND", "London", "", "", ""})

	records := table.Records()
	want := []domain.LocalizedName{
		{Language: "en", Kind: domain.NameKindContinent, Code: "EU"},
		{Language: "en", Kind: domain.NameKindCountry, Code: "GB"},
	}
	if len(records) != len(want) {
		t.Fatalf("records = %+v", records)
	}
	for i, record := range records {
		if record.Kind != want[i].Kind || record.Code != want[i].Code {
			t.Fatalf("record %d = %+v, want %+v", i, record, want[i])
		}
	}
}

func TestLanguageTableKeepsEmptyTranslations(t *testing.T) {
	table := make(LanguageTable)
	table.addLocationRow("ja", []string{"3", "ja", "AS", "", "JP", "日本", "13", "", "", "", "", "", ""})

	if _, ok := table.Name("ja", NameKey{Kind: domain.NameKindContinent, Code: "AS"}); ok {
		t.Fatal("empty continent name should have no text")
	}
	if _, present := table["ja"][NameKey{Kind: domain.NameKindSubdivision1, Code: "JP/13"}]; !present {
		t.Fatal("subdivision entry without text should still be recorded")
	}
}
