// Package sstable implements the immutable on-disk tables of the store.
//
// A table is a pair of files. The data file is an entry count followed by
// the entries in ascending key order, each framed as
//
//	[<canonical key>|<value-or-null>]
//
// so the byte position of a '[' is the starting offset of a record. The
// metadata sidecar carries five sections on separate lines:
//
//	<time range>
//	<key range>
//	<bloom filter>
//	<index count>
//	<canonical key>^<byte offset>     (index count times)
//
// After sealing, neither file is ever modified. The data file is
// memory-mapped read-only for the lifetime of the handle.
package sstable

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Priyanshu23/FlashTSGo/bloom"
	"github.com/Priyanshu23/FlashTSGo/datarange"
	"github.com/Priyanshu23/FlashTSGo/memtable"
	"github.com/Priyanshu23/FlashTSGo/series"
)

// BloomFalsePositiveRate sizes the per-table filter against the memtable
// capacity every sealed table starts from.
const BloomFalsePositiveRate = 0.01

// MetadataExtension replaces the data file's extension to name the sidecar.
const MetadataExtension = ".metadata"

// ErrCorrupt is returned when a table's files disagree with each other or
// cannot be parsed.
var ErrCorrupt = errors.New("sstable: corrupt table")

type indexEntry struct {
	key    series.Key
	offset int64
}

// SSTable is a read-only handle over a sealed table. It owns the file
// descriptor and the memory mapping and releases both on Close.
type SSTable[V series.Value] struct {
	path      string
	bloom     *bloom.Filter
	timeRange datarange.Range[uint64]
	keyRange  datarange.Range[series.Key]
	index     []indexEntry // ascending by key
	data      []byte       // mmap, nil when the handle is empty
	file      *os.File
}

// Seal writes the memtable out as a new table at path, builds the bloom
// filter, ranges and index from the same traversal, writes the sidecar,
// and maps the data file. The memtable is consumed: the caller must clear
// it and not observe it afterwards.
func Seal[V series.Value](path string, mem *memtable.MemTable[V]) (*SSTable[V], error) {
	filter, err := bloom.New(memtable.MaxEntries, BloomFalsePositiveRate)
	if err != nil {
		return nil, err
	}

	t := &SSTable[V]{
		path:      path,
		bloom:     filter,
		timeRange: datarange.New[uint64](series.TimestampCodec{}),
		keyRange:  datarange.New[series.Key](series.KeyCodec{}),
	}

	if err := t.saveData(mem); err != nil {
		return nil, err
	}
	if err := t.saveMetadata(); err != nil {
		return nil, err
	}
	if err := t.mapFile(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open loads an existing table at path. A missing data file yields an
// empty, idle handle rather than an error.
func Open[V series.Value](path string) (*SSTable[V], error) {
	t := &SSTable[V]{
		path:      path,
		timeRange: datarange.New[uint64](series.TimestampCodec{}),
		keyRange:  datarange.New[series.Key](series.KeyCodec{}),
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}

	if err := t.mapFile(); err != nil {
		return nil, err
	}
	if err := t.loadMetadata(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Contains is the cheap, I/O-free probe: bloom filter, then key range,
// then index membership.
func (t *SSTable[V]) Contains(key series.Key) bool {
	return t.mayContain(key) && t.inRange(key) && t.inIndex(key)
}

// Get returns the stored optional value for key, or nil when the table
// does not contain it. A present key whose record holds null is a
// tombstone and also returns nil; callers distinguish the two with
// Contains.
func (t *SSTable[V]) Get(key series.Key) (*V, error) {
	if !t.Contains(key) {
		return nil, nil
	}

	i := t.lowerBound(key)
	offset := t.index[i].offset
	if offset < 0 || offset >= int64(len(t.data)) {
		return nil, fmt.Errorf("%w: offset %d outside data file %s", ErrCorrupt, offset, t.path)
	}
	if t.data[offset] != '[' {
		return nil, fmt.Errorf("%w: no record frame at offset %d in %s", ErrCorrupt, offset, t.path)
	}
	end := bytes.IndexByte(t.data[offset:], ']')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated record at offset %d in %s", ErrCorrupt, offset, t.path)
	}

	entry, err := series.ParseEntry[V](string(t.data[offset : offset+int64(end)+1]))
	if err != nil {
		return nil, fmt.Errorf("%w: record at offset %d in %s: %v", ErrCorrupt, offset, t.path, err)
	}
	if !entry.Key.Equal(key) {
		return nil, fmt.Errorf("%w: key mismatch at offset %d in %s: want %s, got %s",
			ErrCorrupt, offset, t.path, key, entry.Key)
	}
	return entry.Value, nil
}

// GetRange returns the entries with start <= key < end in ascending key
// order, tombstones included. The result is empty when neither the time
// range nor the key range overlaps the span.
func (t *SSTable[V]) GetRange(start, end series.Key) ([]series.Entry[V], error) {
	if !t.overlaps(start, end) {
		return nil, nil
	}
	var entries []series.Entry[V]
	for i := t.lowerBound(start); i < len(t.index); i++ {
		key := t.index[i].key
		if key.Compare(end) >= 0 {
			break
		}
		value, err := t.Get(key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, series.Entry[V]{Key: key, Value: value})
	}
	return entries, nil
}

// Path returns the data file path.
func (t *SSTable[V]) Path() string { return t.path }

// MetadataPath returns the sidecar path.
func (t *SSTable[V]) MetadataPath() string {
	return strings.TrimSuffix(t.path, ".sst") + MetadataExtension
}

// Size returns the number of indexed keys.
func (t *SSTable[V]) Size() int { return len(t.index) }

// String returns the data file contents; an empty handle renders as an
// empty table.
func (t *SSTable[V]) String() string {
	if t.data == nil {
		return "0"
	}
	return string(t.data)
}

// Close releases the mapping and the file descriptor. It is safe to call
// on an empty handle and more than once.
func (t *SSTable[V]) Close() error {
	var err error
	if t.data != nil {
		err = unix.Munmap(t.data)
		t.data = nil
	}
	if t.file != nil {
		if cerr := t.file.Close(); err == nil {
			err = cerr
		}
		t.file = nil
	}
	return err
}

func (t *SSTable[V]) saveData(mem *memtable.MemTable[V]) error {
	file, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", t.path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	countStr := strconv.Itoa(mem.Size())
	if _, err := w.WriteString(countStr); err != nil {
		return fmt.Errorf("sstable: write %s: %w", t.path, err)
	}

	offset := int64(len(countStr))
	for entry := range mem.All() {
		t.updateMetadata(entry.Key, offset)
		record := series.FormatEntry(entry)
		if _, err := w.WriteString(record); err != nil {
			return fmt.Errorf("sstable: write %s: %w", t.path, err)
		}
		offset += int64(len(record))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("sstable: write %s: %w", t.path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sstable: sync %s: %w", t.path, err)
	}
	return nil
}

func (t *SSTable[V]) updateMetadata(key series.Key, offset int64) {
	t.timeRange.Update(key.Timestamp())
	t.keyRange.Update(key)
	t.bloom.Insert(key)
	t.index = append(t.index, indexEntry{key: key, offset: offset})
}

func (t *SSTable[V]) saveMetadata() error {
	path := t.MetadataPath()
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sstable: create %s: %w", path, err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprintf(w, "%s\n", t.timeRange.String())
	fmt.Fprintf(w, "%s\n", t.keyRange.String())
	fmt.Fprintf(w, "%s\n", t.bloom.String())
	fmt.Fprintf(w, "%d\n", len(t.index))
	for _, ie := range t.index {
		fmt.Fprintf(w, "%s^%d\n", ie.key, ie.offset)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("sstable: write %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sstable: sync %s: %w", path, err)
	}
	return nil
}

func (t *SSTable[V]) loadMetadata() error {
	path := t.MetadataPath()
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("sstable: open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	nextLine := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("sstable: read %s: %w", path, err)
			}
			return "", fmt.Errorf("%w: truncated metadata %s", ErrCorrupt, path)
		}
		return scanner.Text(), nil
	}

	line, err := nextLine()
	if err != nil {
		return err
	}
	if t.timeRange, err = datarange.Parse[uint64](series.TimestampCodec{}, line); err != nil {
		return fmt.Errorf("%w: time range in %s: %v", ErrCorrupt, path, err)
	}

	if line, err = nextLine(); err != nil {
		return err
	}
	if t.keyRange, err = datarange.Parse[series.Key](series.KeyCodec{}, line); err != nil {
		return fmt.Errorf("%w: key range in %s: %v", ErrCorrupt, path, err)
	}

	if line, err = nextLine(); err != nil {
		return err
	}
	if t.bloom, err = bloom.Parse(line); err != nil {
		return fmt.Errorf("%w: bloom filter in %s: %v", ErrCorrupt, path, err)
	}

	if line, err = nextLine(); err != nil {
		return err
	}
	count, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("%w: index count %q in %s", ErrCorrupt, line, path)
	}

	t.index = make([]indexEntry, 0, count)
	for i := 0; i < count; i++ {
		if line, err = nextLine(); err != nil {
			return err
		}
		sep := strings.LastIndexByte(line, '^')
		if sep < 0 {
			return fmt.Errorf("%w: index entry %q in %s", ErrCorrupt, line, path)
		}
		key, err := series.ParseKey(line[:sep])
		if err != nil {
			return fmt.Errorf("%w: index key in %s: %v", ErrCorrupt, path, err)
		}
		offset, err := strconv.ParseInt(line[sep+1:], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: index offset %q in %s", ErrCorrupt, line[sep+1:], path)
		}
		t.index = append(t.index, indexEntry{key: key, offset: offset})
	}
	return nil
}

func (t *SSTable[V]) mapFile() error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("sstable: open %s: %w", t.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("sstable: stat %s: %w", t.path, err)
	}
	if info.Size() == 0 {
		t.file = file
		return nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		file.Close()
		return fmt.Errorf("sstable: mmap %s: %w", t.path, err)
	}

	t.file = file
	t.data = data
	return nil
}

func (t *SSTable[V]) mayContain(key series.Key) bool {
	return t.bloom != nil && t.bloom.MayContain(key)
}

func (t *SSTable[V]) inRange(key series.Key) bool {
	return t.timeRange.Contains(key.Timestamp()) && t.keyRange.Contains(key)
}

func (t *SSTable[V]) inIndex(key series.Key) bool {
	i := t.lowerBound(key)
	return i < len(t.index) && t.index[i].key.Equal(key)
}

func (t *SSTable[V]) overlaps(start, end series.Key) bool {
	return t.timeRange.Overlaps(start.Timestamp(), end.Timestamp()) ||
		t.keyRange.Overlaps(start, end)
}

// lowerBound returns the position of the first index entry >= key.
func (t *SSTable[V]) lowerBound(key series.Key) int {
	return sort.Search(len(t.index), func(i int) bool {
		return t.index[i].key.Compare(key) >= 0
	})
}
