// Package db provides the directory bookkeeping above the storage engine:
// named databases holding named tables, each table owning one engine
// instance, its declared tag columns, and the read-path caches.
package db

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Priyanshu23/FlashTSGo/lsm"
	"github.com/Priyanshu23/FlashTSGo/query"
	"github.com/Priyanshu23/FlashTSGo/series"
)

// TagColumnsFilename is the per-table sidecar listing declared tag names,
// one per line.
const TagColumnsFilename = "tag_columns.metadata"

const (
	lookupFilterSize   = 100000
	lookupFilterFPRate = 0.01
	scanCacheSize      = 128
)

var (
	ErrTagColumnExists = errors.New("db: tag column already exists")
	ErrNoSuchTagColumn = errors.New("db: no such tag column")
)

// Value is the numeric type tables store.
type Value = float64

// Table owns one storage engine under <database>/<name>. Writes and
// queries validate tags against the declared tag columns.
//
// Two read-path caches sit in front of the engine: a membership filter
// that short-circuits point lookups for keys never written, and a scan
// cache invalidated by every write.
type Table struct {
	name       string
	dbPath     string
	engine     *lsm.Tree[Value]
	tagColumns map[string]struct{}
	lookup     *bloomfilter.BloomFilter
	scans      *lru.Cache[string, []series.Entry[Value]]
}

// OpenTable opens (creating if needed) the table directory, loads the tag
// columns, replays the engine's write-ahead log and warms the lookup
// filter.
func OpenTable(dbPath, name string) (*Table, error) {
	t := &Table{
		name:       name,
		dbPath:     dbPath,
		tagColumns: make(map[string]struct{}),
		lookup:     bloomfilter.NewWithEstimates(lookupFilterSize, lookupFilterFPRate),
	}

	if err := os.MkdirAll(t.Path(), 0o755); err != nil {
		return nil, fmt.Errorf("db: create table directory %s: %w", t.Path(), err)
	}
	if err := t.loadTagColumns(); err != nil {
		return nil, err
	}

	engine, err := lsm.Open[Value](t.Path())
	if err != nil {
		return nil, err
	}
	t.engine = engine
	if err := t.engine.ReplayWAL(); err != nil {
		t.engine.Close()
		return nil, err
	}

	scans, err := lru.New[string, []series.Entry[Value]](scanCacheSize)
	if err != nil {
		return nil, err
	}
	t.scans = scans

	if err := t.warmLookup(); err != nil {
		t.engine.Close()
		return nil, err
	}
	return t, nil
}

// Put writes one datapoint.
func (t *Table) Put(timestamp uint64, metric string, tags map[string]string, value Value) error {
	key, err := t.makeKey(timestamp, metric, tags)
	if err != nil {
		return err
	}
	return t.put(key, value)
}

// Remove tombstones one datapoint.
func (t *Table) Remove(timestamp uint64, metric string, tags map[string]string) error {
	key, err := t.makeKey(timestamp, metric, tags)
	if err != nil {
		return err
	}
	return t.remove(key)
}

// Get returns the value for one datapoint, or nil when absent or deleted.
func (t *Table) Get(timestamp uint64, metric string, tags map[string]string) (*Value, error) {
	key, err := t.makeKey(timestamp, metric, tags)
	if err != nil {
		return nil, err
	}
	if !t.lookup.TestString(key.String()) {
		return nil, nil
	}
	return t.engine.Get(key)
}

// Scan returns the merged entries over [start, end), serving repeats from
// the scan cache until the next write.
func (t *Table) Scan(start, end series.Key) ([]series.Entry[Value], error) {
	cacheKey := start.String() + "|" + end.String()
	if entries, ok := t.scans.Get(cacheKey); ok {
		return entries, nil
	}
	entries, err := t.engine.GetRange(start, end, lsm.AllKeys)
	if err != nil {
		return nil, err
	}
	t.scans.Add(cacheKey, entries)
	return entries, nil
}

// Query returns a builder whose writes keep the table's caches honest.
func (t *Table) Query() *query.Builder[Value] {
	return query.NewBuilder[Value](trackedEngine{t}, t.tagColumns)
}

// SetTagColumns replaces the declared tag columns.
func (t *Table) SetTagColumns(columns ...string) error {
	t.tagColumns = make(map[string]struct{}, len(columns))
	for _, c := range columns {
		t.tagColumns[c] = struct{}{}
	}
	return t.saveTagColumns()
}

// AddTagColumn declares one more tag column.
func (t *Table) AddTagColumn(column string) error {
	if _, ok := t.tagColumns[column]; ok {
		return fmt.Errorf("%w: %q in table %q", ErrTagColumnExists, column, t.name)
	}
	t.tagColumns[column] = struct{}{}
	return t.saveTagColumns()
}

// RemoveTagColumn undeclares a tag column.
func (t *Table) RemoveTagColumn(column string) error {
	if _, ok := t.tagColumns[column]; !ok {
		return fmt.Errorf("%w: %q in table %q", ErrNoSuchTagColumn, column, t.name)
	}
	delete(t.tagColumns, column)
	return t.saveTagColumns()
}

// TagColumns returns the declared tag names in sorted order.
func (t *Table) TagColumns() []string {
	columns := make([]string, 0, len(t.tagColumns))
	for c := range t.tagColumns {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}

// Populated reports whether the table holds any data.
func (t *Table) Populated() bool { return !t.engine.Empty() }

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Path returns the table directory.
func (t *Table) Path() string { return filepath.Join(t.dbPath, t.name) }

// Clear drops every on-disk table file and the log, and resets the caches.
func (t *Table) Clear() error {
	if err := t.engine.Clear(); err != nil {
		return err
	}
	t.lookup.ClearAll()
	t.scans.Purge()
	return nil
}

// Close releases the engine's file handles.
func (t *Table) Close() error { return t.engine.Close() }

func (t *Table) put(key series.Key, value Value) error {
	if err := t.engine.Put(key, value, true); err != nil {
		return err
	}
	t.noteWrite(key)
	return nil
}

func (t *Table) remove(key series.Key) error {
	if err := t.engine.Remove(key, true); err != nil {
		return err
	}
	t.noteWrite(key)
	return nil
}

func (t *Table) noteWrite(key series.Key) {
	t.lookup.AddString(key.String())
	t.scans.Purge()
}

func (t *Table) makeKey(timestamp uint64, metric string, tags map[string]string) (series.Key, error) {
	if err := series.ValidateMetric(metric); err != nil {
		return series.Key{}, err
	}
	for name := range tags {
		if _, ok := t.tagColumns[name]; !ok {
			return series.Key{}, fmt.Errorf("%w: %q in table %q", query.ErrUnknownTag, name, t.name)
		}
	}
	return series.NewKey(timestamp, metric, tags), nil
}

// warmLookup seeds the membership filter with every live key.
func (t *Table) warmLookup() error {
	entries, err := t.engine.GetRange(series.MinKey(), series.MaxKey(), lsm.AllKeys)
	if err != nil {
		return err
	}
	for _, e := range entries {
		t.lookup.AddString(e.Key.String())
	}
	return nil
}

func (t *Table) tagColumnsPath() string {
	return filepath.Join(t.Path(), TagColumnsFilename)
}

func (t *Table) saveTagColumns() error {
	path := t.tagColumnsPath()
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("db: create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, column := range t.TagColumns() {
		fmt.Fprintf(w, "%s\n", column)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("db: write %s: %w", path, err)
	}
	return nil
}

func (t *Table) loadTagColumns() error {
	file, err := os.Open(t.tagColumnsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("db: open %s: %w", t.tagColumnsPath(), err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if column := scanner.Text(); column != "" {
			t.tagColumns[column] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("db: read %s: %w", t.tagColumnsPath(), err)
	}
	return nil
}

// trackedEngine routes builder writes through the table so the lookup
// filter and scan cache stay consistent.
type trackedEngine struct{ t *Table }

func (e trackedEngine) Put(key series.Key, value Value, log bool) error {
	return e.t.put(key, value)
}

func (e trackedEngine) Remove(key series.Key, log bool) error {
	return e.t.remove(key)
}

func (e trackedEngine) Get(key series.Key) (*Value, error) {
	return e.t.engine.Get(key)
}

func (e trackedEngine) GetRange(start, end series.Key, filter lsm.Filter) ([]series.Entry[Value], error) {
	return e.t.engine.GetRange(start, end, filter)
}
