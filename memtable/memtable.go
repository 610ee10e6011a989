// Package memtable provides the in-memory, ordered key–value layer of the
// store, implemented using a skip list. Entries map a series key to an
// optional value; an absent value is a tombstone and is stored like any
// other entry so that later reads see the deletion.
//
// The table tracks the time range and key range of everything it holds.
// Point lookups are gated on those ranges as a short-circuit; the gate is
// consistent with the map, it never changes an answer.
package memtable

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/Priyanshu23/FlashTSGo/datarange"
	"github.com/Priyanshu23/FlashTSGo/series"
)

// MaxEntries is the capacity at which the owning engine seals a memtable
// into an on-disk table.
const MaxEntries = 1000

// MemTable is an ordered map from key to optional value. It is not safe
// for concurrent mutation; the owning engine serialises writers.
type MemTable[V series.Value] struct {
	list      *skipList[V]
	timeRange datarange.Range[uint64]
	keyRange  datarange.Range[series.Key]
}

// New returns an empty memtable.
func New[V series.Value]() *MemTable[V] {
	return &MemTable[V]{
		list:      newSkipList[V](),
		timeRange: datarange.New[uint64](series.TimestampCodec{}),
		keyRange:  datarange.New[series.Key](series.KeyCodec{}),
	}
}

// Put inserts or overwrites key. A nil value records a tombstone; it still
// widens both ranges, so reads inside the range find the deletion.
func (m *MemTable[V]) Put(key series.Key, value *V) {
	m.list.put(key, value)
	m.timeRange.Update(key.Timestamp())
	m.keyRange.Update(key)
}

// Get returns the stored optional value and whether key is present. A
// present key with a nil value is a tombstone.
func (m *MemTable[V]) Get(key series.Key) (*V, bool) {
	if !m.inRange(key) {
		return nil, false
	}
	return m.list.get(key)
}

// Contains reports whether key is present, with the same range gate as Get.
func (m *MemTable[V]) Contains(key series.Key) bool {
	if !m.inRange(key) {
		return false
	}
	_, ok := m.list.get(key)
	return ok
}

// GetRange returns the entries with start <= key < end in ascending key
// order. The result is empty when neither tracked range overlaps the span.
func (m *MemTable[V]) GetRange(start, end series.Key) []series.Entry[V] {
	if !m.overlaps(start, end) {
		return nil
	}
	var entries []series.Entry[V]
	for node := m.list.seekGE(start); node != nil; node = node.forward[0] {
		if node.entry.Key.Compare(end) >= 0 {
			break
		}
		entries = append(entries, node.entry)
	}
	return entries
}

// Clear empties the table and both ranges.
func (m *MemTable[V]) Clear() {
	m.list = newSkipList[V]()
	m.timeRange.Clear()
	m.keyRange.Clear()
}

// Size returns the number of entries, tombstones included.
func (m *MemTable[V]) Size() int { return m.list.size }

// Empty reports whether the table holds no entries.
func (m *MemTable[V]) Empty() bool { return m.list.size == 0 }

// TimeRange returns the tracked timestamp range.
func (m *MemTable[V]) TimeRange() datarange.Range[uint64] { return m.timeRange }

// KeyRange returns the tracked key range.
func (m *MemTable[V]) KeyRange() datarange.Range[series.Key] { return m.keyRange }

// All iterates the entries in ascending key order.
func (m *MemTable[V]) All() iter.Seq[series.Entry[V]] { return m.list.all() }

// String renders the entry count followed by every entry in its framed
// form. Parse inverts it.
func (m *MemTable[V]) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(m.Size()))
	for entry := range m.All() {
		b.WriteString(series.FormatEntry(entry))
	}
	return b.String()
}

// Parse rebuilds a memtable from the text form produced by String.
func Parse[V series.Value](s string) (*MemTable[V], error) {
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits == 0 {
		return nil, fmt.Errorf("memtable: missing entry count in %q", s)
	}
	count, err := strconv.Atoi(s[:digits])
	if err != nil {
		return nil, fmt.Errorf("memtable: bad entry count: %w", err)
	}

	m := New[V]()
	rest := s[digits:]
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("memtable: unframed entry at %q", rest)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("memtable: unterminated entry at %q", rest)
		}
		entry, err := series.ParseEntry[V](rest[:end+1])
		if err != nil {
			return nil, err
		}
		m.Put(entry.Key, entry.Value)
		rest = rest[end+1:]
	}

	if m.Size() != count {
		return nil, fmt.Errorf("memtable: count %d does not match %d entries", count, m.Size())
	}
	return m, nil
}

func (m *MemTable[V]) inRange(key series.Key) bool {
	return m.timeRange.Contains(key.Timestamp()) && m.keyRange.Contains(key)
}

func (m *MemTable[V]) overlaps(start, end series.Key) bool {
	return m.timeRange.Overlaps(start.Timestamp(), end.Timestamp()) ||
		m.keyRange.Overlaps(start, end)
}
