package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Priyanshu23/FlashTSGo/query"
	"github.com/Priyanshu23/FlashTSGo/series"
)

func openTestTable(t *testing.T, dir string) *Table {
	t.Helper()
	table, err := OpenTable(dir, "metrics")
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	t.Cleanup(func() { table.Close() })
	if err := table.SetTagColumns("host", "zone"); err != nil {
		t.Fatal(err)
	}
	return table
}

func TestTablePutGetRemove(t *testing.T) {
	table := openTestTable(t, t.TempDir())
	tags := map[string]string{"host": "h1"}

	if err := table.Put(1, "cpu", tags, 0.5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := table.Get(1, "cpu", tags)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v == nil || *v != 0.5 {
		t.Fatalf("Get = %v", v)
	}

	if err := table.Remove(1, "cpu", tags); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if v, _ := table.Get(1, "cpu", tags); v != nil {
		t.Fatalf("removed datapoint still returns %v", *v)
	}
}

func TestTableRejectsUndeclaredTags(t *testing.T) {
	table := openTestTable(t, t.TempDir())

	err := table.Put(1, "cpu", map[string]string{"region": "eu"}, 1)
	if !errors.Is(err, query.ErrUnknownTag) {
		t.Fatalf("Put with undeclared tag = %v, want ErrUnknownTag", err)
	}
}

func TestTableRejectsOverlongMetric(t *testing.T) {
	table := openTestTable(t, t.TempDir())

	err := table.Put(1, "averylongmetricname", nil, 1)
	if !errors.Is(err, series.ErrMetricTooLong) {
		t.Fatalf("Put with overlong metric = %v, want ErrMetricTooLong", err)
	}
}

func TestTagColumnsPersist(t *testing.T) {
	dir := t.TempDir()
	table := openTestTable(t, dir)

	if err := table.AddTagColumn("region"); err != nil {
		t.Fatal(err)
	}
	if err := table.AddTagColumn("region"); !errors.Is(err, ErrTagColumnExists) {
		t.Fatalf("duplicate AddTagColumn = %v", err)
	}
	if err := table.RemoveTagColumn("zone"); err != nil {
		t.Fatal(err)
	}
	if err := table.RemoveTagColumn("zone"); !errors.Is(err, ErrNoSuchTagColumn) {
		t.Fatalf("missing RemoveTagColumn = %v", err)
	}
	table.Close()

	reopened, err := OpenTable(dir, "metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	want := []string{"host", "region"}
	if diff := cmp.Diff(want, reopened.TagColumns()); diff != "" {
		t.Fatalf("tag columns after reopen (-want +got):\n%s", diff)
	}

	sidecar := filepath.Join(reopened.Path(), TagColumnsFilename)
	data, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "host\nregion\n" {
		t.Fatalf("sidecar contents %q", data)
	}
}

func TestTableDurability(t *testing.T) {
	dir := t.TempDir()
	table := openTestTable(t, dir)

	for ts := uint64(0); ts < 50; ts++ {
		if err := table.Put(ts, "cpu", map[string]string{"host": "h1"}, float64(ts)); err != nil {
			t.Fatal(err)
		}
	}
	table.Close()

	// A fresh open replays the WAL; nothing was flushed yet.
	reopened, err := OpenTable(dir, "metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	v, err := reopened.Get(42, "cpu", map[string]string{"host": "h1"})
	if err != nil {
		t.Fatal(err)
	}
	if v == nil || *v != 42 {
		t.Fatalf("Get after reopen = %v", v)
	}
	if !reopened.Populated() {
		t.Fatal("reopened table should report data")
	}
}

func TestQueryThroughTable(t *testing.T) {
	table := openTestTable(t, t.TempDir())

	for ts := uint64(0); ts < 10; ts++ {
		if err := table.Put(ts, "cpu", map[string]string{"host": "h1"}, float64(ts)); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := table.Query().WholeRange().WhereMetricIs("cpu").Sum()
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if sum != 45 {
		t.Fatalf("Sum = %v, want 45", sum)
	}

	// Builder writes flow through the table, so later point reads are
	// not short-circuited by the lookup filter.
	key := series.NewKey(100, "cpu", map[string]string{"host": "h2"})
	if _, err := table.Query().Put(key, 7).Execute(); err != nil {
		t.Fatal(err)
	}
	v, err := table.Get(100, "cpu", map[string]string{"host": "h2"})
	if err != nil {
		t.Fatal(err)
	}
	if v == nil || *v != 7 {
		t.Fatalf("Get after builder put = %v", v)
	}
}

func TestScanCacheInvalidatedByWrites(t *testing.T) {
	table := openTestTable(t, t.TempDir())
	tags := map[string]string{"host": "h1"}

	if err := table.Put(1, "cpu", tags, 1); err != nil {
		t.Fatal(err)
	}

	start, end := series.MinKey(), series.MaxKey()
	first, err := table.Scan(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("first scan = %d entries", len(first))
	}

	// A repeat scan is served from cache and stays equal.
	again, err := table.Scan(start, end)
	if err != nil || len(again) != len(first) {
		t.Fatalf("cached scan = %d entries, %v", len(again), err)
	}

	if err := table.Put(2, "cpu", tags, 2); err != nil {
		t.Fatal(err)
	}
	after, err := table.Scan(start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 {
		t.Fatalf("scan after write = %d entries, want 2", len(after))
	}
}

func TestTableClear(t *testing.T) {
	table := openTestTable(t, t.TempDir())
	tags := map[string]string{"host": "h1"}

	for ts := uint64(0); ts < 2000; ts++ {
		if err := table.Put(ts, "cpu", tags, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := table.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	// On-disk state is gone; a fresh open sees nothing.
	table.Close()
	reopened, err := OpenTable(table.dbPath, "metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Populated() {
		t.Fatal("cleared table should reopen empty")
	}
}
