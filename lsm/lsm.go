// Package lsm implements the storage engine coordinator: a log-structured
// tree with one in-memory memtable (the C0 layer) over a bounded stack of
// immutable on-disk tables (the C1 layer, oldest to newest) and a
// write-ahead log.
//
// Writes append a record to the log, then land in the memtable; a full
// memtable is sealed into a new table and the log truncated. Point reads
// consult the memtable first and then the tables newest-first. Range reads
// merge every overlapping source with newest-wins overwrite and tombstone
// removal.
//
// The tree is single-writer, multi-reader: callers serialise Put, Remove,
// ReplayWAL and Clear among themselves; reads may run concurrently with
// each other but not with writers.
package lsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Priyanshu23/FlashTSGo/memtable"
	"github.com/Priyanshu23/FlashTSGo/series"
	"github.com/Priyanshu23/FlashTSGo/sstable"
	"github.com/Priyanshu23/FlashTSGo/wal"
)

// C1LayerSize bounds the on-disk table stack. There is no compaction: a
// flush against a full layer fails with ErrLayerFull.
const C1LayerSize = 100

// ErrLayerFull is returned when a flush would exceed the C1 layer bound.
var ErrLayerFull = errors.New("lsm: C1 layer is full")

var sstableNamePattern = regexp.MustCompile(`^sstable_(\d+)\.sst$`)

// Filter is a pure predicate applied to keys inside a range scan.
type Filter func(series.Key) bool

// AllKeys accepts every key.
func AllKeys(series.Key) bool { return true }

// Option configures a tree at open time.
type Option func(*config)

type config struct {
	memtableLimit int
	layerCapacity int
}

// WithMemtableLimit overrides the entry count at which the memtable is
// sealed into a table.
func WithMemtableLimit(n int) Option {
	return func(c *config) { c.memtableLimit = n }
}

// WithLayerCapacity overrides the C1 layer bound.
func WithLayerCapacity(n int) Option {
	return func(c *config) { c.layerCapacity = n }
}

// Tree is the storage engine. The zero value is not usable; construct
// with Open.
type Tree[V series.Value] struct {
	dir      string
	mem      *memtable.MemTable[V]
	sstables []*sstable.SSTable[V] // oldest -> newest
	wal      *wal.WAL[V]
	nextID   uint64
	cfg      config
}

// Open creates the directory if missing, loads the existing tables in
// numeric id order, and attaches the write-ahead log. The log is not
// replayed; the caller decides when with ReplayWAL.
func Open[V series.Value](dir string, opts ...Option) (*Tree[V], error) {
	cfg := config{
		memtableLimit: memtable.MaxEntries,
		layerCapacity: C1LayerSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create directory %s: %w", dir, err)
	}

	t := &Tree[V]{
		dir: dir,
		mem: memtable.New[V](),
		wal: wal.New[V](dir),
		cfg: cfg,
	}
	if err := t.loadSSTables(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Put inserts key with value. When log is true the record is appended to
// the write-ahead log before the memtable sees it, so an acknowledged
// write survives a crash. A full memtable is flushed afterwards.
func (t *Tree[V]) Put(key series.Key, value V, log bool) error {
	if log {
		rec := wal.Record[V]{Type: wal.RecordPut, Entry: series.Some(key, value)}
		if err := t.wal.Append(rec); err != nil {
			return err
		}
	}
	t.mem.Put(key, &value)
	if t.mem.Size() >= t.cfg.memtableLimit {
		return t.flush()
	}
	return nil
}

// Remove inserts a tombstone for key. Post-conditions match Put.
func (t *Tree[V]) Remove(key series.Key, log bool) error {
	if log {
		rec := wal.Record[V]{Type: wal.RecordRemove, Entry: series.Tombstone[V](key)}
		if err := t.wal.Append(rec); err != nil {
			return err
		}
	}
	t.mem.Put(key, nil)
	if t.mem.Size() >= t.cfg.memtableLimit {
		return t.flush()
	}
	return nil
}

// Get returns the value for key, or nil when the key is absent or
// tombstoned. The memtable answers first; otherwise the newest table
// whose probe admits the key answers.
func (t *Tree[V]) Get(key series.Key) (*V, error) {
	if t.mem.Contains(key) {
		value, _ := t.mem.Get(key)
		return value, nil
	}
	for i := len(t.sstables) - 1; i >= 0; i-- {
		if t.sstables[i].Contains(key) {
			return t.sstables[i].Get(key)
		}
	}
	return nil, nil
}

// GetRange merges every source over [start, end), oldest to newest with
// the memtable last: a newer value overwrites, a newer tombstone erases.
// Keys failing the filter are skipped. The result is in ascending key
// order and holds no tombstones.
func (t *Tree[V]) GetRange(start, end series.Key, filter Filter) ([]series.Entry[V], error) {
	merged := make(map[string]series.Entry[V])
	fold := func(entries []series.Entry[V]) {
		for _, e := range entries {
			if !filter(e.Key) {
				continue
			}
			if e.Tombstone() {
				delete(merged, e.Key.String())
				continue
			}
			merged[e.Key.String()] = e
		}
	}

	for _, st := range t.sstables {
		entries, err := st.GetRange(start, end)
		if err != nil {
			return nil, err
		}
		fold(entries)
	}
	fold(t.mem.GetRange(start, end))

	return sortedEntries(merged), nil
}

// GetRangeParallel produces the same output as GetRange. One task per
// source scans and filters concurrently; the fold keeps the first
// occurrence of each key newest-first, then drops tombstones.
func (t *Tree[V]) GetRangeParallel(ctx context.Context, start, end series.Key, filter Filter) ([]series.Entry[V], error) {
	// results[0] is the memtable, then the tables newest-first.
	results := make([][]series.Entry[V], len(t.sstables)+1)
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		results[0] = filterEntries(t.mem.GetRange(start, end), filter)
		return nil
	})
	for i, st := range t.sstables {
		slot := len(t.sstables) - i
		g.Go(func() error {
			entries, err := st.GetRange(start, end)
			if err != nil {
				return err
			}
			results[slot] = filterEntries(entries, filter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]series.Entry[V])
	for _, entries := range results {
		for _, e := range entries {
			if _, ok := merged[e.Key.String()]; !ok {
				merged[e.Key.String()] = e
			}
		}
	}
	for keyStr, e := range merged {
		if e.Tombstone() {
			delete(merged, keyStr)
		}
	}

	return sortedEntries(merged), nil
}

// ReplayWAL applies every log record with log=false.
func (t *Tree[V]) ReplayWAL() error {
	return t.wal.Replay(t)
}

// Clear removes every table file, every metadata sidecar and the log
// file, dropping the in-memory table handles. The memtable keeps its
// contents.
func (t *Tree[V]) Clear() error {
	var firstErr error
	for _, st := range t.sstables {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(st.Path()); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(st.MetadataPath()); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	t.sstables = nil
	if err := t.wal.Remove(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close releases every table handle. The tree must not be used afterwards.
func (t *Tree[V]) Close() error {
	var firstErr error
	for _, st := range t.sstables {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.sstables = nil
	return firstErr
}

// Empty reports whether both layers hold nothing.
func (t *Tree[V]) Empty() bool {
	return t.mem.Empty() && len(t.sstables) == 0
}

// SSTableCount returns the C1 layer size.
func (t *Tree[V]) SSTableCount() int { return len(t.sstables) }

// Dir returns the engine directory.
func (t *Tree[V]) Dir() string { return t.dir }

// WALPath returns the write-ahead log's path.
func (t *Tree[V]) WALPath() string { return t.wal.Path() }

// String renders the memtable followed by every table, oldest first.
func (t *Tree[V]) String() string {
	var b strings.Builder
	b.WriteString(t.mem.String())
	for _, st := range t.sstables {
		b.WriteString(st.String())
	}
	return b.String()
}

// flush seals the memtable into the next numbered table, appends it to
// the C1 layer, clears the memtable and truncates the log.
func (t *Tree[V]) flush() error {
	if len(t.sstables) >= t.cfg.layerCapacity {
		return ErrLayerFull
	}

	path := filepath.Join(t.dir, fmt.Sprintf("sstable_%d.sst", t.nextID))
	st, err := sstable.Seal(path, t.mem)
	if err != nil {
		return err
	}
	t.nextID++
	t.sstables = append(t.sstables, st)
	t.mem.Clear()
	return t.wal.Truncate()
}

// loadSSTables discovers sstable_<n>.sst files, opens them in ascending
// numeric id order, and resumes the id sequence past the largest seen.
func (t *Tree[V]) loadSSTables() error {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return fmt.Errorf("lsm: read directory %s: %w", t.dir, err)
	}

	var ids []uint64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := sstableNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		path := filepath.Join(t.dir, fmt.Sprintf("sstable_%d.sst", id))
		st, err := sstable.Open[V](path)
		if err != nil {
			return err
		}
		t.sstables = append(t.sstables, st)
		t.nextID = id + 1
	}
	return nil
}

func filterEntries[V series.Value](entries []series.Entry[V], filter Filter) []series.Entry[V] {
	var kept []series.Entry[V]
	for _, e := range entries {
		if filter(e.Key) {
			kept = append(kept, e)
		}
	}
	return kept
}

func sortedEntries[V series.Value](merged map[string]series.Entry[V]) []series.Entry[V] {
	entries := make([]series.Entry[V], 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})
	return entries
}
