package memtable

import (
	"iter"
	"math/rand/v2"

	"github.com/Priyanshu23/FlashTSGo/series"
)

const maxLevel = 32

type skipListNode[V series.Value] struct {
	entry   series.Entry[V]
	forward []*skipListNode[V]
}

func newSkipListNode[V series.Value](entry series.Entry[V], levels int) *skipListNode[V] {
	return &skipListNode[V]{
		entry:   entry,
		forward: make([]*skipListNode[V], levels+1),
	}
}

// skipList is an ordered map from key to optional value. Ordering follows
// series.Key.Compare rather than a built-in comparison, which is the only
// way the composite key can drive the list.
type skipList[V series.Value] struct {
	head   *skipListNode[V]
	levels int
	size   int
}

func newSkipList[V series.Value]() *skipList[V] {
	return &skipList[V]{
		head:   newSkipListNode(series.Entry[V]{}, 0),
		levels: -1,
	}
}

func randomLevel() int {
	level := 0
	for rand.Int32()&1 == 0 && level < maxLevel {
		level++
	}
	return level
}

func (sl *skipList[V]) get(key series.Key) (*V, bool) {
	curr := sl.head
	for level := sl.levels; level >= 0; level-- {
		for curr.forward[level] != nil {
			c := curr.forward[level].entry.Key.Compare(key)
			if c > 0 {
				break
			}
			if c == 0 {
				return curr.forward[level].entry.Value, true
			}
			curr = curr.forward[level]
		}
	}
	return nil, false
}

func (sl *skipList[V]) adjustLevels(level int) {
	temp := sl.head.forward
	sl.head = newSkipListNode(series.Entry[V]{}, level)
	sl.levels = level
	copy(sl.head.forward, temp)
}

func (sl *skipList[V]) put(key series.Key, value *V) {
	newLevel := randomLevel()
	if newLevel > sl.levels {
		sl.adjustLevels(newLevel)
	}

	updates := make([]*skipListNode[V], sl.levels+1)
	x := sl.head
	for level := sl.levels; level >= 0; level-- {
		for x.forward[level] != nil && x.forward[level].entry.Key.Less(key) {
			x = x.forward[level]
		}
		updates[level] = x
	}

	if x.forward[0] != nil && x.forward[0].entry.Key.Equal(key) {
		x.forward[0].entry.Value = value
		return
	}

	newNode := newSkipListNode(series.Entry[V]{Key: key, Value: value}, newLevel)
	for level := 0; level <= newLevel; level++ {
		newNode.forward[level] = updates[level].forward[level]
		updates[level].forward[level] = newNode
	}

	sl.size++
}

// seekGE returns the first node whose key is >= key, or nil.
func (sl *skipList[V]) seekGE(key series.Key) *skipListNode[V] {
	if sl.levels < 0 {
		return nil
	}
	x := sl.head
	for level := sl.levels; level >= 0; level-- {
		for x.forward[level] != nil && x.forward[level].entry.Key.Less(key) {
			x = x.forward[level]
		}
	}
	return x.forward[0]
}

func (sl *skipList[V]) all() iter.Seq[series.Entry[V]] {
	return func(yield func(series.Entry[V]) bool) {
		if sl.levels < 0 {
			return
		}
		curr := sl.head.forward[0]
		for curr != nil {
			if !yield(curr.entry) {
				break
			}
			curr = curr.forward[0]
		}
	}
}
