package memtable

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Priyanshu23/FlashTSGo/series"
)

func key(ts uint64) series.Key {
	return series.NewKey(ts, "metric", map[string]string{"host": "h1"})
}

func put(m *MemTable[float64], ts uint64, v float64) {
	m.Put(key(ts), &v)
}

func values(entries []series.Entry[float64]) []float64 {
	var vs []float64
	for _, e := range entries {
		if e.Value == nil {
			vs = append(vs, -1)
			continue
		}
		vs = append(vs, *e.Value)
	}
	return vs
}

func TestEmptyMemTable(t *testing.T) {
	m := New[float64]()

	if !m.Empty() || m.Size() != 0 {
		t.Fatalf("fresh table: Empty() = %v, Size() = %d", m.Empty(), m.Size())
	}
	if m.Contains(key(1)) {
		t.Fatal("fresh table should contain nothing")
	}
	if _, ok := m.Get(key(1)); ok {
		t.Fatal("fresh table should return nothing")
	}
	if got := m.GetRange(series.MinKey(), series.MaxKey()); got != nil {
		t.Fatalf("fresh table range = %v", got)
	}
	if got := m.String(); got != "0" {
		t.Fatalf("String() = %q", got)
	}
}

func TestPutGetOverwrite(t *testing.T) {
	m := New[float64]()

	put(m, 1, 1.5)
	v, ok := m.Get(key(1))
	if !ok || v == nil || *v != 1.5 {
		t.Fatalf("Get = %v, %v", v, ok)
	}

	put(m, 1, 2.5)
	v, _ = m.Get(key(1))
	if *v != 2.5 {
		t.Fatalf("overwrite failed, got %v", *v)
	}
	if m.Size() != 1 {
		t.Fatalf("Size() = %d after overwrite", m.Size())
	}
}

func TestTombstoneIsStoredAndWidensRanges(t *testing.T) {
	m := New[float64]()

	m.Put(key(7), nil)

	v, ok := m.Get(key(7))
	if !ok {
		t.Fatal("tombstone should be present")
	}
	if v != nil {
		t.Fatalf("tombstone should carry no value, got %v", *v)
	}
	if !m.TimeRange().Contains(7) {
		t.Fatal("tombstone should widen the time range")
	}
	if !m.KeyRange().Contains(key(7)) {
		t.Fatal("tombstone should widen the key range")
	}
}

func TestGetRangeHalfOpen(t *testing.T) {
	m := New[float64]()
	for ts := uint64(0); ts < 10; ts++ {
		put(m, ts, float64(ts))
	}

	entries := m.GetRange(key(3), key(7))
	want := []float64{3, 4, 5, 6}
	if diff := cmp.Diff(want, values(entries)); diff != "" {
		t.Fatalf("GetRange values mismatch (-want +got):\n%s", diff)
	}

	// The upper bound itself is excluded.
	for _, e := range entries {
		if e.Key.Equal(key(7)) {
			t.Fatal("upper bound should be excluded")
		}
	}
}

func TestGetRangeOutsideRanges(t *testing.T) {
	m := New[float64]()
	put(m, 100, 1)
	put(m, 200, 2)

	if got := m.GetRange(key(300), key(400)); got != nil {
		t.Fatalf("non-overlapping range = %v", got)
	}
}

func TestClear(t *testing.T) {
	m := New[float64]()
	put(m, 1, 1)
	put(m, 2, 2)

	m.Clear()

	if !m.Empty() {
		t.Fatal("cleared table should be empty")
	}
	if m.TimeRange().IsSet() || m.KeyRange().IsSet() {
		t.Fatal("clear should reset both ranges")
	}
	if m.Contains(key(1)) {
		t.Fatal("cleared table should contain nothing")
	}
}

func TestOrderedIteration(t *testing.T) {
	m := New[float64]()
	for _, ts := range []uint64{5, 1, 9, 3, 7} {
		put(m, ts, float64(ts))
	}

	var got []uint64
	for entry := range m.All() {
		got = append(got, entry.Key.Timestamp())
	}
	want := []uint64{1, 3, 5, 7, 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("iteration order mismatch (-want +got):\n%s", diff)
	}
}

func TestStringRoundTrip(t *testing.T) {
	m := New[float64]()
	put(m, 1, 1.5)
	put(m, 2, 2.5)
	m.Put(key(3), nil)

	parsed, err := Parse[float64](m.String())
	if err != nil {
		t.Fatalf("Parse(String()): %v", err)
	}
	if parsed.String() != m.String() {
		t.Fatalf("round trip mismatch:\n%q\n%q", parsed.String(), m.String())
	}
	if parsed.Size() != 3 {
		t.Fatalf("parsed Size() = %d", parsed.Size())
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no count", "[{00000000000000000001}{m}{}|1]"},
		{"unframed entry", "1x"},
		{"unterminated entry", "1[{00000000000000000001}{m}{}|1"},
		{"count mismatch", "2[{00000000000000000001}{m}{}|1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse[float64](tt.in); err == nil {
				t.Fatalf("Parse(%q) should fail", tt.in)
			}
		})
	}
}

// The range gate on point lookups is an optimisation; it must never
// change an answer relative to the underlying map.
func TestRangeGateConsistency(t *testing.T) {
	m := New[float64]()
	for ts := uint64(10); ts <= 20; ts += 2 {
		put(m, ts, float64(ts))
	}

	for ts := uint64(0); ts <= 30; ts++ {
		k := key(ts)
		_, inMap := m.list.get(k)
		if got := m.Contains(k); got != inMap {
			t.Fatalf("Contains(%d) = %v, map has %v", ts, got, inMap)
		}
	}

	// Keys exactly at the range bounds.
	for _, ts := range []uint64{10, 20} {
		if !m.Contains(key(ts)) {
			t.Fatalf("bound key %d should be visible", ts)
		}
	}
}

func TestManyEntries(t *testing.T) {
	m := New[float64]()
	for i := 0; i < MaxEntries; i++ {
		put(m, uint64(i), float64(i))
	}
	if m.Size() != MaxEntries {
		t.Fatalf("Size() = %d", m.Size())
	}
	for i := 0; i < MaxEntries; i++ {
		v, ok := m.Get(key(uint64(i)))
		if !ok || *v != float64(i) {
			t.Fatalf("lost entry %d", i)
		}
	}
}

func BenchmarkPut(b *testing.B) {
	m := New[float64]()
	for i := 0; i < b.N; i++ {
		v := float64(i)
		m.Put(key(uint64(i)), &v)
	}
	_ = fmt.Sprint(m.Size())
}
