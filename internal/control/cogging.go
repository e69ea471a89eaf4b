package control

import (
	"math"

	"github.com/pkg/errors"
)

var ErrCoggingRange = errors.New("cogging index out of range")

// Cogging holds one compensation current per encoder count.
type Cogging struct {
	currents []float64
}

// Resize allocates a zeroed map for cpr counts. A map of the same size is
// kept as it is.
func (c *Cogging) Resize(cpr int) {
	if cpr <= 0 {
		c.currents = nil
		return
	}
	if len(c.currents) == cpr {
		return
	}
	c.currents = make([]float64, cpr)
}

func (c *Cogging) Len() int {
	return len(c.currents)
}

func (c *Cogging) Set(count int, current float64) error {
	if count < 0 || count >= len(c.currents) {
		return errors.Wrapf(ErrCoggingRange, "%d not in [0, %d)", count, len(c.currents))
	}
	c.currents[count] = current
	return nil
}

// At looks up the compensation for an encoder position in counts.
func (c *Cogging) At(pos float64) float64 {
	n := len(c.currents)
	if n == 0 || math.IsNaN(pos) || math.IsInf(pos, 0) {
		return 0
	}
	i := int(math.Mod(math.Round(pos), float64(n)))
	if i < 0 {
		i += n
	}
	return c.currents[i]
}
