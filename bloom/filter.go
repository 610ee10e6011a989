// Package bloom implements the probabilistic membership filter attached to
// every sealed table. The filter never reports a false negative; its false
// positive rate is a construction parameter.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/spaolacci/murmur3"

	"github.com/Priyanshu23/FlashTSGo/series"
)

var (
	ErrInvalidParameter = errors.New("bloom: invalid parameter")
	ErrBadFormat        = errors.New("bloom: bad filter format")
)

// Filter is a fixed-size bit array probed by k seeded hash functions. Each
// probe mixes the key's canonical-string hash through 32-bit murmur3 keyed
// by the stored seed, reduced modulo the bit count.
type Filter struct {
	bits  *bitset.BitSet
	m     uint64
	seeds []uint64
}

// New sizes a filter for an expected element count and a target false
// positive rate in (0, 1):
//
//	m = ceil(-n*ln(p) / ln(2)^2)    bits
//	k = floor((m/n) * ln(2))        hash functions
func New(expected uint64, fpRate float64) (*Filter, error) {
	if expected == 0 {
		return nil, fmt.Errorf("%w: expected element count must be positive", ErrInvalidParameter)
	}
	if fpRate <= 0 || fpRate >= 1 {
		return nil, fmt.Errorf("%w: false positive rate %v outside (0, 1)", ErrInvalidParameter, fpRate)
	}

	m := uint64(math.Ceil(-(float64(expected) * math.Log(fpRate)) / (math.Ln2 * math.Ln2)))
	k := uint64(math.Floor(float64(m) / float64(expected) * math.Ln2))

	seeds := make([]uint64, k)
	for i := range seeds {
		seeds[i] = uint64(rand.Uint32())
	}

	return &Filter{
		bits:  bitset.New(uint(m)),
		m:     m,
		seeds: seeds,
	}, nil
}

// Parse reads the single-line text form produced by String.
func Parse(s string) (*Filter, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrBadFormat, s)
	}

	m, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bit count %q", ErrBadFormat, fields[0])
	}
	k, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: hash count %q", ErrBadFormat, fields[1])
	}
	if uint64(len(fields)) != 2+k+1 {
		return nil, fmt.Errorf("%w: want %d fields, got %d", ErrBadFormat, 2+k+1, len(fields))
	}

	seeds := make([]uint64, k)
	for i := range seeds {
		seeds[i], err = strconv.ParseUint(fields[2+i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: seed %q", ErrBadFormat, fields[2+i])
		}
	}

	bitsStr := fields[2+k]
	if uint64(len(bitsStr)) != m {
		return nil, fmt.Errorf("%w: want %d bits, got %d", ErrBadFormat, m, len(bitsStr))
	}
	bits := bitset.New(uint(m))
	for i := 0; i < len(bitsStr); i++ {
		switch bitsStr[i] {
		case '1':
			bits.Set(uint(i))
		case '0':
		default:
			return nil, fmt.Errorf("%w: bit %q at %d", ErrBadFormat, bitsStr[i], i)
		}
	}

	return &Filter{bits: bits, m: m, seeds: seeds}, nil
}

// Insert sets the k bits for key.
func (f *Filter) Insert(key series.Key) {
	for _, seed := range f.seeds {
		f.bits.Set(f.probe(key, seed))
	}
}

// MayContain reports false only when key was never inserted.
func (f *Filter) MayContain(key series.Key) bool {
	for _, seed := range f.seeds {
		if !f.bits.Test(f.probe(key, seed)) {
			return false
		}
	}
	return true
}

// Bits returns the bit count m.
func (f *Filter) Bits() uint64 { return f.m }

// Hashes returns the hash function count k.
func (f *Filter) Hashes() uint64 { return uint64(len(f.seeds)) }

// String renders "m k s1 ... sk bits" with the bits as a run of '0'/'1'.
func (f *Filter) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(f.m, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(len(f.seeds)), 10))
	for _, seed := range f.seeds {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(seed, 10))
	}
	b.WriteByte(' ')
	for i := uint64(0); i < f.m; i++ {
		if f.bits.Test(uint(i)) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func (f *Filter) probe(key series.Key, seed uint64) uint {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key.Hash())
	return uint(uint64(murmur3.Sum32WithSeed(buf[:], uint32(seed))) % f.m)
}
