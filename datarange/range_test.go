package datarange

import (
	"testing"

	"github.com/Priyanshu23/FlashTSGo/series"
)

func TestUnsetRange(t *testing.T) {
	r := New[uint64](series.TimestampCodec{})

	if r.IsSet() {
		t.Fatal("fresh range should be unset")
	}
	if r.Contains(0) {
		t.Fatal("unset range should contain nothing")
	}
	if r.Overlaps(0, 1<<64-1) {
		t.Fatal("unset range should overlap nothing")
	}
	if got := r.String(); got != "null" {
		t.Fatalf("String() = %q, want null", got)
	}
}

func TestUpdateWidens(t *testing.T) {
	r := New[uint64](series.TimestampCodec{})

	r.Update(5)
	if low, high, ok := r.Bounds(); !ok || low != 5 || high != 5 {
		t.Fatalf("Bounds() = %d, %d, %v", low, high, ok)
	}

	r.Update(2)
	r.Update(9)
	if low, high, _ := r.Bounds(); low != 2 || high != 9 {
		t.Fatalf("Bounds() = %d, %d", low, high)
	}

	tests := []struct {
		v    uint64
		want bool
	}{
		{1, false},
		{2, true},
		{5, true},
		{9, true},
		{10, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.v); got != tt.want {
			t.Fatalf("Contains(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestOverlaps(t *testing.T) {
	r := New[uint64](series.TimestampCodec{})
	r.Update(10)
	r.Update(20)

	tests := []struct {
		name       string
		start, end uint64
		want       bool
	}{
		{"inside", 12, 15, true},
		{"covering", 0, 100, true},
		{"touching low", 0, 10, true},
		{"touching high", 20, 30, true},
		{"below", 0, 9, false},
		{"above", 21, 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Overlaps(tt.start, tt.end); got != tt.want {
				t.Fatalf("Overlaps(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestClear(t *testing.T) {
	r := New[uint64](series.TimestampCodec{})
	r.Update(1)
	r.Clear()
	if r.IsSet() || r.Contains(1) {
		t.Fatal("cleared range should be unset")
	}
}

func TestTimestampRangeRoundTrip(t *testing.T) {
	r := New[uint64](series.TimestampCodec{})
	r.Update(3)
	r.Update(1000)

	s := r.String()
	if s != "3:1000" {
		t.Fatalf("String() = %q", s)
	}

	parsed, err := Parse[uint64](series.TimestampCodec{}, s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	low, high, ok := parsed.Bounds()
	if !ok || low != 3 || high != 1000 {
		t.Fatalf("parsed bounds = %d, %d, %v", low, high, ok)
	}

	unset, err := Parse[uint64](series.TimestampCodec{}, "null")
	if err != nil || unset.IsSet() {
		t.Fatalf("Parse(null) = %v, %v", unset.IsSet(), err)
	}
}

func TestKeyRangeRoundTripWithTags(t *testing.T) {
	// Tagged keys put ':' inside the serialised bounds; the pair still
	// splits at the }:{ boundary.
	r := New[series.Key](series.KeyCodec{})
	low := series.NewKey(1, "cpu", map[string]string{"host": "a", "zone": "x"})
	high := series.NewKey(9, "mem", map[string]string{"host": "b"})
	r.Update(high)
	r.Update(low)

	parsed, err := Parse[series.Key](series.KeyCodec{}, r.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", r.String(), err)
	}
	gotLow, gotHigh, ok := parsed.Bounds()
	if !ok || !gotLow.Equal(low) || !gotHigh.Equal(high) {
		t.Fatalf("parsed bounds = %s, %s, %v", gotLow, gotHigh, ok)
	}
}

func TestParseFailures(t *testing.T) {
	tests := []string{"", "5", "abc:def", "9:1"}
	for _, s := range tests {
		if _, err := Parse[uint64](series.TimestampCodec{}, s); err == nil {
			t.Fatalf("Parse(%q) should fail", s)
		}
	}
}
