package series

import (
	"testing"
)

func TestEntryRoundTrip(t *testing.T) {
	key := NewKey(7, "cpu", map[string]string{"host": "h1"})

	tests := []struct {
		name  string
		entry Entry[float64]
		want  string
	}{
		{
			"present value",
			Some(key, 2.5),
			"[{00000000000000000007}{cpu}{host:h1}|2.5]",
		},
		{
			"tombstone",
			Tombstone[float64](key),
			"[{00000000000000000007}{cpu}{host:h1}|null]",
		},
		{
			"integral float renders without point",
			Some(key, 3.0),
			"[{00000000000000000007}{cpu}{host:h1}|3]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatEntry(tt.entry)
			if got != tt.want {
				t.Fatalf("FormatEntry() = %q, want %q", got, tt.want)
			}

			parsed, err := ParseEntry[float64](got)
			if err != nil {
				t.Fatalf("ParseEntry(%q): %v", got, err)
			}
			if !parsed.Key.Equal(tt.entry.Key) {
				t.Fatalf("round trip changed key: %q", parsed.Key)
			}
			if parsed.Tombstone() != tt.entry.Tombstone() {
				t.Fatalf("round trip changed tombstone state")
			}
			if !parsed.Tombstone() && *parsed.Value != *tt.entry.Value {
				t.Fatalf("round trip changed value: %v", *parsed.Value)
			}
		})
	}
}

func TestParseEntryFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no framing", "{00000000000000000007}{cpu}{}|1"},
		{"no separator", "[{00000000000000000007}{cpu}{}]"},
		{"bad key", "[cpu|1]"},
		{"bad value", "[{00000000000000000007}{cpu}{}|abc]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEntry[float64](tt.in); err == nil {
				t.Fatalf("ParseEntry(%q) should fail", tt.in)
			}
		})
	}
}

func TestValueRoundTripExactness(t *testing.T) {
	values := []float64{0, 1, -1, 0.1, 1e-300, 1e300, 123456789.123456789, 3.141592653589793}
	for _, v := range values {
		parsed, err := ParseValue[float64](FormatValue(v))
		if err != nil {
			t.Fatalf("ParseValue(FormatValue(%v)): %v", v, err)
		}
		if parsed != v {
			t.Fatalf("value %v round-tripped to %v", v, parsed)
		}
	}
}

func TestIntegerValues(t *testing.T) {
	got := FormatValue(int64(-42))
	if got != "-42" {
		t.Fatalf("FormatValue(int64(-42)) = %q", got)
	}
	parsed, err := ParseValue[int64]("-42")
	if err != nil || parsed != -42 {
		t.Fatalf("ParseValue[int64](-42) = %v, %v", parsed, err)
	}

	u, err := ParseValue[uint64]("18446744073709551615")
	if err != nil || u != 1<<64-1 {
		t.Fatalf("ParseValue[uint64](max) = %v, %v", u, err)
	}
}
