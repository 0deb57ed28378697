// Package filter implements the Bloom-like membership filter peers use
// to advertise which repositories they are interested in receiving
// announcements for.
package filter

import (
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
	"github.com/weavenet/weave/internal/nodeid"
)

// Hashes is the fixed number of hash functions every filter uses,
// regardless of its size. Keeping this fixed (rather than derived from
// the expected element count) keeps the wire encoding self-describing:
// a receiver only needs the byte length to know how to test membership.
const Hashes = 7

// sizeM is the default filter size in bits (sizeM/8 = 3072 bytes):
// ~2973 expected elements, matching the inventory size bound, at a
// false-positive rate of about 2% with Hashes = 7.
const sizeM = 3072 * 8

// Sizes enumerates the filter byte-lengths a peer may legally send. A
// filter of any other length is rejected as malformed rather than
// silently accepted at degraded precision.
var Sizes = []int{sizeM / 8, (sizeM / 8) / 2, (sizeM / 8) / 4}

// ErrInvalidSize is returned when decoding a filter byte slice whose
// length isn't one of Sizes.
type ErrInvalidSize struct {
	Size int
}

func (e ErrInvalidSize) Error() string {
	return fmt.Sprintf("filter: invalid size %d", e.Size)
}

// Filter is a Bloom-like set membership structure over RepoIds.
type Filter struct {
	bits []byte
}

// New creates an empty filter of the default size. An empty filter
// matches nothing; use NewAll for a default subscription that should
// match everything.
func New() *Filter {
	return &Filter{bits: make([]byte, sizeM/8)}
}

// NewAll creates a filter of the default size with every bit set, so
// Contains reports true for every RepoId. This is the default
// subscription filter: a node that has not yet narrowed its interest
// wants every Refs announcement relayed to it, not none.
func NewAll() *Filter {
	bits := make([]byte, sizeM/8)
	for i := range bits {
		bits[i] = 0xff
	}
	return &Filter{bits: bits}
}

// NewSized creates an empty filter of the given byte size; size must be
// one of Sizes.
func NewSized(size int) (*Filter, error) {
	if !validSize(size) {
		return nil, ErrInvalidSize{Size: size}
	}
	return &Filter{bits: make([]byte, size)}, nil
}

// FromBytes wraps a raw filter byte slice received on the wire.
func FromBytes(b []byte) (*Filter, error) {
	if !validSize(len(b)) {
		return nil, ErrInvalidSize{Size: len(b)}
	}
	bits := make([]byte, len(b))
	copy(bits, b)
	return &Filter{bits: bits}, nil
}

func validSize(n int) bool {
	for _, s := range Sizes {
		if s == n {
			return true
		}
	}
	return false
}

// Bytes returns the raw filter bytes, ready for wire encoding.
func (f *Filter) Bytes() []byte { return f.bits }

// Insert adds a repository id to the filter.
func (f *Filter) Insert(rid nodeid.RepoId) {
	data := rid.Oid.Bytes()
	nbits := uint64(len(f.bits)) * 8
	h1, h2 := murmur3.Sum128(data)
	for i := 0; i < Hashes; i++ {
		idx := combinedHash(h1, h2, i, nbits)
		f.bits[idx/8] |= 1 << (idx % 8)
	}
}

// Contains tests whether rid may be a member of the filter. False
// positives are possible; false negatives are not.
func (f *Filter) Contains(rid nodeid.RepoId) bool {
	data := rid.Oid.Bytes()
	nbits := uint64(len(f.bits)) * 8
	h1, h2 := murmur3.Sum128(data)
	for i := 0; i < Hashes; i++ {
		idx := combinedHash(h1, h2, i, nbits)
		if f.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// combinedHash implements the standard Kirsch-Mitzenmacher double
// hashing scheme: g_i(x) = h1(x) + i*h2(x) mod m, avoiding the cost of
// Hashes independent hash functions.
func combinedHash(h1, h2 uint64, i int, nbits uint64) uint64 {
	return (h1 + uint64(i)*h2) % nbits
}

// FalsePositiveRate estimates the current false-positive probability
// given n inserted elements, for diagnostics/metrics.
func (f *Filter) FalsePositiveRate(n int) float64 {
	m := float64(len(f.bits)) * 8
	k := float64(Hashes)
	return math.Pow(1-math.Exp(-k*float64(n)/m), k)
}
