// Person spawning: initial population with names and per-person tastes.

package agents

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/market-sim/internal/config"
	"github.com/talgya/market-sim/internal/entropy"
	"github.com/talgya/market-sim/internal/money"
)

// TasteSpread is how far a person's utility for a good may sit from the
// configured base utility, as a fraction of it.
const TasteSpread = 0.2

// Spawner creates people.
type Spawner struct {
	rng    *entropy.Source
	taste  opensimplex.Noise
	goods  []config.Good
	rate   float64
	nextID PersonID
}

// NewSpawner creates a person spawner. Names are drawn from rng; tastes come
// from a noise field seeded with seed, so neighbouring IDs have related tastes.
func NewSpawner(seed int64, rng *entropy.Source, cfg *config.Config) *Spawner {
	return &Spawner{
		rng:    rng,
		taste:  opensimplex.New(seed + 300),
		goods:  cfg.Goods,
		rate:   cfg.People.DiscountRate.Get(),
		nextID: 1,
	}
}

// SetNextID sets the next person ID to be issued (used when restoring).
func (s *Spawner) SetNextID(id PersonID) {
	s.nextID = id
}

// SpawnPopulation creates count people of one class.
func (s *Spawner) SpawnPopulation(count int, class Class) []*Person {
	people := make([]*Person, 0, count)
	for i := 0; i < count; i++ {
		people = append(people, s.spawnOne(class))
	}
	return people
}

func (s *Spawner) spawnOne(class Class) *Person {
	id := s.nextID
	s.nextID++

	utility := make([]money.Money, len(s.goods))
	for g, good := range s.goods {
		n := octaveNoise(s.taste, float64(id), float64(g)*7.3, 3, 0.05, 0.5)
		u := good.BaseUtility.MulFloat(1 + TasteSpread*n)
		utility[g] = money.Max(u, money.Cent)
	}

	return &Person{
		ID:           id,
		Name:         s.generateName(),
		Class:        class,
		DiscountRate: s.rate,
		Utility:      utility,
		Stock:        make([]int, len(s.goods)),
	}
}

// octaveNoise layers frequencies of a noise field; the result is in [-1, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
