// Package entropy provides the single seeded random stream the simulation
// draws from. Every stochastic choice goes through a Source so runs with the
// same seed and inputs are identical.
package entropy

import (
	"fmt"
	"hash/fnv"

	"golang.org/x/exp/rand"
)

// Source is a seeded PCG stream. Not safe for concurrent use; the day tick
// draws from it on one goroutine only.
type Source struct {
	pcg *rand.PCGSource
	*rand.Rand
}

// New creates a stream from a seed.
func New(seed uint64) *Source {
	pcg := &rand.PCGSource{}
	pcg.Seed(seed)
	return &Source{pcg: pcg, Rand: rand.New(pcg)}
}

// Fork derives an independent stream labelled for one consumer, e.g. the
// population generator. The parent advances by one draw.
func (s *Source) Fork(label string) *Source {
	h := fnv.New64a()
	h.Write([]byte(label))
	return New(s.Uint64() ^ h.Sum64())
}

// PTrue returns true with probability p.
func (s *Source) PTrue(p float64) bool {
	return s.Float64() < p
}

// Sample returns k distinct indices from [0, n) chosen uniformly, in draw
// order. k is clamped to [0, n].
func (s *Source) Sample(n, k int) []int {
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// Partial Fisher-Yates: only the first k slots are settled.
	for i := 0; i < k; i++ {
		j := i + s.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// MarshalBinary captures the stream position for snapshots.
func (s *Source) MarshalBinary() ([]byte, error) {
	return s.pcg.MarshalBinary()
}

// UnmarshalBinary restores a position written by MarshalBinary.
func (s *Source) UnmarshalBinary(data []byte) error {
	if s.pcg == nil {
		s.pcg = &rand.PCGSource{}
		s.Rand = rand.New(s.pcg)
	}
	if err := s.pcg.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("restore random stream: %w", err)
	}
	return nil
}

// Clone returns a stream at the same position that advances independently.
func (s *Source) Clone() *Source {
	state, err := s.pcg.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("entropy: marshal pcg: %v", err))
	}
	c := &Source{}
	if err := c.UnmarshalBinary(state); err != nil {
		panic(err)
	}
	return c
}
