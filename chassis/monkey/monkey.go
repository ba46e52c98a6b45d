package monkey

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrMonkey - injected failure
var ErrMonkey = errors.New("monkey error")

// Monkey injects failures with a fixed probability.
type Monkey struct {
	chance float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Monkey failing with probability chance (0 disables it).
func New(chance float64, seed int64) *Monkey {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Monkey{
		chance: chance,
		rnd:    rand.New(rand.NewSource(seed)),
	}
}

// RandomizeError passes err through, otherwise with some probability
// generates a "monkey" error.
func (m *Monkey) RandomizeError(err error) error {
	if err != nil {
		return err
	}
	if m == nil || m.chance <= 0 {
		return nil
	}
	m.mu.Lock()
	roll := m.rnd.Float64()
	m.mu.Unlock()
	if roll >= m.chance {
		return nil
	}
	return ErrMonkey
}
