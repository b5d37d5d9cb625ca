package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"geoipd/internal/geolite"
)

func TestIngestObserverCountsDeltas(t *testing.T) {
	observer := NewIngestObserver()

	blocksBefore := testutil.ToFloat64(rowsRead.WithLabelValues(string(geolite.KindBlock)))
	loadedBefore := testutil.ToFloat64(rowsLoaded.WithLabelValues("tbl_geo_block"))

	observer.MemberStarted("GeoLite2-City-Blocks-IPv4.csv", geolite.KindBlock, 100)
	observer.RowsRead("GeoLite2-City-Blocks-IPv4.csv", 10, 50)
	observer.RowsRead("GeoLite2-City-Blocks-IPv4.csv", 25, 90)
	observer.MemberDone("GeoLite2-City-Blocks-IPv4.csv", 30)
	observer.BatchLoaded("tbl_geo_block", 20, 30)
	observer.BatchLoaded("tbl_geo_block", 30, 30)

	if got := testutil.ToFloat64(rowsRead.WithLabelValues(string(geolite.KindBlock))) - blocksBefore; got != 30 {
		t.Fatalf("rows read = %v, want 30", got)
	}
	if got := testutil.ToFloat64(rowsLoaded.WithLabelValues("tbl_geo_block")) - loadedBefore; got != 30 {
		t.Fatalf("rows loaded = %v, want 30", got)
	}

	// a second run through the same observer starts from zero again
	observer.MemberStarted("GeoLite2-City-Blocks-IPv4.csv", geolite.KindBlock, 100)
	observer.BatchLoaded("tbl_geo_block", 10, 10)
	if got := testutil.ToFloat64(rowsLoaded.WithLabelValues("tbl_geo_block")) - loadedBefore; got != 40 {
		t.Fatalf("rows loaded after second run = %v, want 40", got)
	}
}

func TestObserveIngestLabelsStage(t *testing.T) {
	Init()

	before := testutil.ToFloat64(ingestRuns.WithLabelValues("failed_fetch"))
	ObserveIngest(&geolite.StageError{Stage: geolite.StageFetch, Err: errors.New("boom")}, 0)
	if got := testutil.ToFloat64(ingestRuns.WithLabelValues("failed_fetch")) - before; got != 1 {
		t.Fatalf("failed_fetch increment = %v, want 1", got)
	}

	ObserveIngest(nil, 3*time.Second)
	if testutil.ToFloat64(lastSuccess) == 0 {
		t.Fatal("last success timestamp not set")
	}
}

func TestObserveLookup(t *testing.T) {
	Init()

	before := testutil.ToFloat64(lookups.WithLabelValues("http", "found"))
	ObserveLookup("http", "found")
	if got := testutil.ToFloat64(lookups.WithLabelValues("http", "found")) - before; got != 1 {
		t.Fatalf("lookup increment = %v, want 1", got)
	}
}
