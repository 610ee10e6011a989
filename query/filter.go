// Package query sits directly above the storage engine: predicate
// combinators for range scans and a fluent builder for point, range, put,
// remove and aggregation queries. It consumes nothing from the engine
// beyond Put, Remove, Get and GetRange.
package query

import (
	"github.com/Priyanshu23/FlashTSGo/lsm"
	"github.com/Priyanshu23/FlashTSGo/series"
)

// ByMetric matches keys with the exact metric.
func ByMetric(metric string) lsm.Filter {
	return func(key series.Key) bool { return key.Metric() == metric }
}

// ByAnyMetric matches keys whose metric is any of the given ones.
func ByAnyMetric(metrics ...string) lsm.Filter {
	set := make(map[string]struct{}, len(metrics))
	for _, m := range metrics {
		set[m] = struct{}{}
	}
	return func(key series.Key) bool {
		_, ok := set[key.Metric()]
		return ok
	}
}

// ByTag matches keys carrying the exact tag pair.
func ByTag(name, value string) lsm.Filter {
	return func(key series.Key) bool {
		for _, t := range key.Tags() {
			if t.Name == name {
				return t.Value == value
			}
		}
		return false
	}
}

// ByAnyTag matches keys carrying at least one of the given tag pairs.
func ByAnyTag(tags ...series.Tag) lsm.Filter {
	return func(key series.Key) bool {
		for _, want := range tags {
			for _, t := range key.Tags() {
				if t == want {
					return true
				}
			}
		}
		return false
	}
}

// ByAllTags matches keys carrying every one of the given tag pairs.
func ByAllTags(tags ...series.Tag) lsm.Filter {
	return func(key series.Key) bool {
		for _, want := range tags {
			found := false
			for _, t := range key.Tags() {
				if t == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

// ByTimestamp matches keys with the exact timestamp.
func ByTimestamp(ts uint64) lsm.Filter {
	return func(key series.Key) bool { return key.Timestamp() == ts }
}

// ByAnyTimestamp matches keys whose timestamp is any of the given ones.
func ByAnyTimestamp(timestamps ...uint64) lsm.Filter {
	set := make(map[uint64]struct{}, len(timestamps))
	for _, ts := range timestamps {
		set[ts] = struct{}{}
	}
	return func(key series.Key) bool {
		_, ok := set[key.Timestamp()]
		return ok
	}
}

// All combines filters conjunctively. With no filters it accepts
// everything.
func All(filters ...lsm.Filter) lsm.Filter {
	return func(key series.Key) bool {
		for _, f := range filters {
			if !f(key) {
				return false
			}
		}
		return true
	}
}
