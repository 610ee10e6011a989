// Package series defines the composite key that orders every datapoint in
// the store, along with the entry and value codecs shared by the on-disk
// formats.
//
// A key is the triple (timestamp, metric, tags) and its canonical string is
//
//	{<20-digit zero-padded timestamp>}{<metric>}{<k1>:<v1>,<k2>:<v2>}
//
// Tags are emitted in ascending tag-name order and an empty tag set emits
// {}. The fixed timestamp width keeps byte order and timestamp order in
// agreement within one metric.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	// TimestampWidth is the zero-padded width of the timestamp block.
	TimestampWidth = 20

	// MaxMetricLength bounds metric names.
	MaxMetricLength = 15
)

// MinMetric and MaxMetric are synthetic metric bounds for building range
// endpoints. MaxMetric is one byte longer than any legal metric and made of
// 0xFF bytes, so it compares above every metric that passes validation.
var (
	MinMetric = ""
	MaxMetric = strings.Repeat("\xff", MaxMetricLength+1)
)

var (
	ErrBadKeyFormat  = errors.New("series: bad key format")
	ErrMetricTooLong = errors.New("series: metric exceeds max length")
)

// Reserved hash values for the sentinel keys. No canonical-string hash
// collides with these except with negligible probability.
const (
	minKeyHash uint64 = 0
	maxKeyHash uint64 = math.MaxUint64
)

type keyKind int8

const (
	kindMin    keyKind = -1
	kindNormal keyKind = 0
	kindMax    keyKind = 1
)

// Tag is a single tag-name/tag-value pair.
type Tag struct {
	Name  string
	Value string
}

// Key is a value type: freely copied, compared and hashed. The zero Key is
// the normal key with timestamp 0, empty metric and no tags.
type Key struct {
	kind      keyKind
	timestamp uint64
	metric    string
	tags      []Tag // ascending by name
	str       string
	hash      uint64
}

// NewKey builds a key from its fields. Tags are copied and ordered by name.
func NewKey(timestamp uint64, metric string, tags map[string]string) Key {
	ordered := make([]Tag, 0, len(tags))
	for name, value := range tags {
		ordered = append(ordered, Tag{Name: name, Value: value})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	k := Key{timestamp: timestamp, metric: metric, tags: ordered}
	k.str = k.canonical()
	k.hash = xxhash.Sum64String(k.str)
	return k
}

// MinKey returns the sentinel that orders below every other key.
func MinKey() Key {
	return Key{kind: kindMin, hash: minKeyHash}
}

// MaxKey returns the sentinel that orders above every other key.
func MaxKey() Key {
	return Key{kind: kindMax, timestamp: math.MaxUint64, metric: MaxMetric, hash: maxKeyHash}
}

// ParseKey is the exact inverse of String for non-sentinel keys.
func ParseKey(s string) (Key, error) {
	blocks, err := splitBlocks(s)
	if err != nil {
		return Key{}, err
	}

	tsStr, metric, tagsStr := blocks[0], blocks[1], blocks[2]
	if len(tsStr) != TimestampWidth {
		return Key{}, fmt.Errorf("%w: timestamp %q is not %d digits", ErrBadKeyFormat, tsStr, TimestampWidth)
	}
	var timestamp uint64
	for i := 0; i < len(tsStr); i++ {
		c := tsStr[i]
		if c < '0' || c > '9' {
			return Key{}, fmt.Errorf("%w: timestamp %q is not a numeral", ErrBadKeyFormat, tsStr)
		}
		timestamp = timestamp*10 + uint64(c-'0')
	}

	tags := make(map[string]string)
	if tagsStr != "" {
		for _, pair := range strings.Split(tagsStr, ",") {
			name, value, ok := strings.Cut(pair, ":")
			if !ok || name == "" {
				return Key{}, fmt.Errorf("%w: tag pair %q", ErrBadKeyFormat, pair)
			}
			tags[name] = value
		}
	}

	return NewKey(timestamp, metric, tags), nil
}

// splitBlocks splits {a}{b}{c} into its three blocks, rejecting mismatched
// braces and trailing garbage.
func splitBlocks(s string) ([3]string, error) {
	var blocks [3]string
	rest := s
	for i := 0; i < 3; i++ {
		if len(rest) == 0 || rest[0] != '{' {
			return blocks, fmt.Errorf("%w: %q", ErrBadKeyFormat, s)
		}
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return blocks, fmt.Errorf("%w: %q", ErrBadKeyFormat, s)
		}
		blocks[i] = rest[1:end]
		rest = rest[end+1:]
	}
	if rest != "" {
		return blocks, fmt.Errorf("%w: %q", ErrBadKeyFormat, s)
	}
	return blocks, nil
}

// ValidateMetric reports whether a metric name may be stored.
func ValidateMetric(metric string) error {
	if len(metric) > MaxMetricLength {
		return fmt.Errorf("%w: %q", ErrMetricTooLong, metric)
	}
	return nil
}

// Timestamp returns the timestamp field.
func (k Key) Timestamp() uint64 { return k.timestamp }

// Metric returns the metric field.
func (k Key) Metric() string { return k.metric }

// Tags returns the tags in ascending name order. The slice is shared; do
// not modify it.
func (k Key) Tags() []Tag { return k.tags }

// TagMap returns the tags as a fresh map.
func (k Key) TagMap() map[string]string {
	m := make(map[string]string, len(k.tags))
	for _, t := range k.tags {
		m[t.Name] = t.Value
	}
	return m
}

// String returns the canonical form.
func (k Key) String() string {
	if k.str == "" {
		return k.canonical()
	}
	return k.str
}

// Hash returns the stable hash of the canonical form. Sentinel keys hash to
// reserved constants independent of their fields.
func (k Key) Hash() uint64 {
	switch k.kind {
	case kindMin:
		return minKeyHash
	case kindMax:
		return maxKeyHash
	}
	if k.str == "" {
		return xxhash.Sum64String(k.canonical())
	}
	return k.hash
}

// Equal reports hash equality, which coincides with canonical-string
// equality for well-formed keys.
func (k Key) Equal(other Key) bool {
	return k.Hash() == other.Hash()
}

// Compare orders keys: sentinels unconditionally first/last, then
// timestamp, then metric, then tags.
func (k Key) Compare(other Key) int {
	if k.kind != other.kind {
		if k.kind < other.kind {
			return -1
		}
		return 1
	}
	if k.kind != kindNormal {
		return 0
	}
	if k.timestamp != other.timestamp {
		if k.timestamp < other.timestamp {
			return -1
		}
		return 1
	}
	if c := strings.Compare(k.metric, other.metric); c != 0 {
		return c
	}
	return compareTags(k.tags, other.tags)
}

// Less reports k < other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

func compareTags(a, b []Tag) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i].Name, b[i].Name); c != 0 {
			return c
		}
		if c := strings.Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func (k Key) canonical() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%0*d}{%s}{", TimestampWidth, k.timestamp, k.metric)
	for i, t := range k.tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.Name)
		b.WriteByte(':')
		b.WriteString(t.Value)
	}
	b.WriteByte('}')
	return b.String()
}
