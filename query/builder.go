package query

import (
	"errors"
	"fmt"

	"github.com/Priyanshu23/FlashTSGo/lsm"
	"github.com/Priyanshu23/FlashTSGo/series"
)

var (
	// ErrEmptyAggregate is returned when sum, avg, min or max runs over
	// an empty result.
	ErrEmptyAggregate = errors.New("query: aggregation over empty range")

	// ErrUnknownTag is returned when a key or filter names a tag the
	// table never declared.
	ErrUnknownTag = errors.New("query: tag not declared")

	// ErrNoQuery is returned when Execute runs on an unconfigured builder.
	ErrNoQuery = errors.New("query: no query configured")
)

// Engine is the slice of the storage engine the builder consumes.
// *lsm.Tree implements it.
type Engine[V series.Value] interface {
	Put(key series.Key, value V, log bool) error
	Remove(key series.Key, log bool) error
	Get(key series.Key) (*V, error)
	GetRange(start, end series.Key, filter lsm.Filter) ([]series.Entry[V], error)
}

type queryKind int

const (
	kindNone queryKind = iota
	kindPoint
	kindRange
	kindPut
	kindRemove
)

// Builder accumulates one query against an engine. Configuration errors
// stick to the builder and surface when the query runs, so call chains
// stay unconditional.
type Builder[V series.Value] struct {
	engine     Engine[V]
	tagColumns map[string]struct{}
	kind       queryKind
	key        series.Key
	start, end series.Key
	value      V
	filters    []lsm.Filter
	err        error
}

// NewBuilder returns a builder over the engine. tagColumns is the set of
// declared tag names every referenced tag is validated against; a nil set
// disables validation.
func NewBuilder[V series.Value](engine Engine[V], tagColumns map[string]struct{}) *Builder[V] {
	return &Builder[V]{engine: engine, tagColumns: tagColumns}
}

// Point configures a single-key lookup.
func (b *Builder[V]) Point(key series.Key) *Builder[V] {
	b.validateKey(key)
	b.kind = kindPoint
	b.key = key
	return b
}

// Range configures a scan over [start, end).
func (b *Builder[V]) Range(start, end series.Key) *Builder[V] {
	b.validateKey(start)
	b.validateKey(end)
	b.kind = kindRange
	b.start, b.end = start, end
	return b
}

// WholeRange configures a scan over every key via the sentinel bounds.
func (b *Builder[V]) WholeRange() *Builder[V] {
	b.kind = kindRange
	b.start, b.end = series.MinKey(), series.MaxKey()
	return b
}

// Put configures an insert.
func (b *Builder[V]) Put(key series.Key, value V) *Builder[V] {
	b.validateKey(key)
	if err := series.ValidateMetric(key.Metric()); err != nil && b.err == nil {
		b.err = err
	}
	b.kind = kindPut
	b.key = key
	b.value = value
	return b
}

// Remove configures a tombstone insert.
func (b *Builder[V]) Remove(key series.Key) *Builder[V] {
	b.validateKey(key)
	b.kind = kindRemove
	b.key = key
	return b
}

// WhereMetricIs narrows a range scan to one metric.
func (b *Builder[V]) WhereMetricIs(metric string) *Builder[V] {
	b.filters = append(b.filters, ByMetric(metric))
	return b
}

// WhereAnyMetric narrows a range scan to a metric set.
func (b *Builder[V]) WhereAnyMetric(metrics ...string) *Builder[V] {
	b.filters = append(b.filters, ByAnyMetric(metrics...))
	return b
}

// WhereTagIs narrows a range scan to keys carrying the tag pair.
func (b *Builder[V]) WhereTagIs(name, value string) *Builder[V] {
	b.validateTagName(name)
	b.filters = append(b.filters, ByTag(name, value))
	return b
}

// WhereAnyTag narrows a range scan to keys carrying at least one pair.
func (b *Builder[V]) WhereAnyTag(tags ...series.Tag) *Builder[V] {
	for _, t := range tags {
		b.validateTagName(t.Name)
	}
	b.filters = append(b.filters, ByAnyTag(tags...))
	return b
}

// WhereAllTags narrows a range scan to keys carrying every pair.
func (b *Builder[V]) WhereAllTags(tags ...series.Tag) *Builder[V] {
	for _, t := range tags {
		b.validateTagName(t.Name)
	}
	b.filters = append(b.filters, ByAllTags(tags...))
	return b
}

// WhereTimestampIs narrows a range scan to one timestamp.
func (b *Builder[V]) WhereTimestampIs(ts uint64) *Builder[V] {
	b.filters = append(b.filters, ByTimestamp(ts))
	return b
}

// WhereAnyTimestamp narrows a range scan to a timestamp set.
func (b *Builder[V]) WhereAnyTimestamp(timestamps ...uint64) *Builder[V] {
	b.filters = append(b.filters, ByAnyTimestamp(timestamps...))
	return b
}

// Execute runs the configured query and returns its entries: the single
// present entry for a point query, the merged scan for a range query, the
// written entry for a put, nothing for a remove.
func (b *Builder[V]) Execute() ([]series.Entry[V], error) {
	if b.err != nil {
		return nil, b.err
	}

	switch b.kind {
	case kindPoint:
		value, err := b.engine.Get(b.key)
		if err != nil || value == nil {
			return nil, err
		}
		return []series.Entry[V]{{Key: b.key, Value: value}}, nil
	case kindRange:
		return b.engine.GetRange(b.start, b.end, All(b.filters...))
	case kindPut:
		if err := b.engine.Put(b.key, b.value, true); err != nil {
			return nil, err
		}
		return []series.Entry[V]{series.Some(b.key, b.value)}, nil
	case kindRemove:
		if err := b.engine.Remove(b.key, true); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, ErrNoQuery
}

// Count returns the number of entries the query yields.
func (b *Builder[V]) Count() (int, error) {
	entries, err := b.Execute()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Sum aggregates the values. An empty result is ErrEmptyAggregate.
func (b *Builder[V]) Sum() (V, error) {
	var sum V
	entries, err := b.nonEmpty()
	if err != nil {
		return sum, err
	}
	for _, e := range entries {
		sum += *e.Value
	}
	return sum, nil
}

// Avg aggregates the mean value. An empty result is ErrEmptyAggregate.
func (b *Builder[V]) Avg() (float64, error) {
	entries, err := b.nonEmpty()
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, e := range entries {
		sum += float64(*e.Value)
	}
	return sum / float64(len(entries)), nil
}

// Min aggregates the smallest value. An empty result is ErrEmptyAggregate.
func (b *Builder[V]) Min() (V, error) {
	entries, err := b.nonEmpty()
	if err != nil {
		var zero V
		return zero, err
	}
	min := *entries[0].Value
	for _, e := range entries[1:] {
		if *e.Value < min {
			min = *e.Value
		}
	}
	return min, nil
}

// Max aggregates the largest value. An empty result is ErrEmptyAggregate.
func (b *Builder[V]) Max() (V, error) {
	entries, err := b.nonEmpty()
	if err != nil {
		var zero V
		return zero, err
	}
	max := *entries[0].Value
	for _, e := range entries[1:] {
		if *e.Value > max {
			max = *e.Value
		}
	}
	return max, nil
}

func (b *Builder[V]) nonEmpty() ([]series.Entry[V], error) {
	entries, err := b.Execute()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyAggregate
	}
	return entries, nil
}

func (b *Builder[V]) validateKey(key series.Key) {
	for _, t := range key.Tags() {
		b.validateTagName(t.Name)
	}
}

func (b *Builder[V]) validateTagName(name string) {
	if b.tagColumns == nil || b.err != nil {
		return
	}
	if _, ok := b.tagColumns[name]; !ok {
		b.err = fmt.Errorf("%w: %q", ErrUnknownTag, name)
	}
}
