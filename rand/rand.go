package rand

import (
	"github.com/pkg/errors"
	"github.com/seehuhn/mt19937"
	"gonum.org/v1/gonum/stat/distuv"
)

// A Generator is a seeded Mersenne twister (MT19937-64). It satisfies the
// Source interface from golang.org/x/exp/rand, so it can drive the gonum
// distuv samplers directly. A Generator is NOT safe for concurrent use: the
// trainer draws noise from it on the calling goroutine only.
type Generator struct {
	mt *mt19937.MT19937
}

// NewGenerator creates a new PRNG based on the given seed
func NewGenerator(seed int64) (*Generator, error) {
	mt := mt19937.New()
	mt.Seed(seed)
	return &Generator{mt: mt}, nil
}

// NewGeneratorSlice creates a new PRNG seeded with the canonical MT19937-64
// init_by_array scheme. This is mainly for checking against reference
// sequences.
func NewGeneratorSlice(key []uint64) (*Generator, error) {
	if len(key) < 1 {
		return nil, errors.Errorf("Seed slice must not be empty")
	}

	mt := mt19937.New()
	mt.SeedFromSlice(key)
	return &Generator{mt: mt}, nil
}

// Seed resets the generator. Part of the x/exp/rand Source interface.
func (g *Generator) Seed(seed uint64) {
	g.mt.Seed(int64(seed))
}

// Uint64 returns the next raw 64 bit value. Part of the x/exp/rand Source interface.
func (g *Generator) Uint64() uint64 {
	return g.mt.Uint64()
}

// Int63 provides the same interface as Go's math/rand
func (g *Generator) Int63() int64 {
	return g.mt.Int63()
}

// Int63n is a copy of the current Go code
func (g *Generator) Int63n(n int64) int64 {
	if n <= 0 {
		panic("invalid argument to Int63n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int63() & (n - 1)
	}

	max := int64((1 << 63) - 1 - (1<<63)%uint64(n))
	v := g.Int63()
	for v > max {
		v = g.Int63()
	}

	return v % n
}

// Int31 is just a copy of the golang impl
func (g *Generator) Int31() int32 {
	return int32(g.Int63() >> 32)
}

// Int31n is just a copy of the golang impL
func (g *Generator) Int31n(n int32) int32 {
	if n <= 0 {
		panic("invalid argument to Int31n")
	}

	if n&(n-1) == 0 { // n is power of two, can mask
		return g.Int31() & (n - 1)
	}

	max := int32((1 << 31) - 1 - (1<<31)%uint32(n))
	v := g.Int31()

	for v > max {
		v = g.Int31()
	}

	return v % n
}

// Float64 uses the commented, simpler implmentation since we don't have the
// same support requirements for users
func (g *Generator) Float64() float64 {
	// See the Go lang comments for Rand Float64 implementation for details
	return float64(g.Int63n(1<<53)) / (1 << 53)
}

// NormFloat64 returns a standard normal draw
func (g *Generator) NormFloat64() float64 {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: g}.Rand()
}

// FillNormal overwrites dst with standard normal draws
func (g *Generator) FillNormal(dst []float64) {
	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: g}
	for i := range dst {
		dst[i] = unit.Rand()
	}
}

// Perm returns a pseudo-random permutation of [0, n) (Fisher-Yates)
func (g *Generator) Perm(n int) []int {
	m := make([]int, n)
	for i := range m {
		m[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := int(g.Int63n(int64(i + 1)))
		m[i], m[j] = m[j], m[i]
	}
	return m
}
