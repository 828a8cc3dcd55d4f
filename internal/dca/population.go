package dca

import "fmt"

// ErrPopulationInvariant reports a broken window invariant (population size
// drifting from the lifespan, or more than one cell aging out in a single
// iteration). It is fatal: subsequent classifications would be meaningless.
type ErrPopulationInvariant struct {
	Iteration int64
	Detail    string
}

func (e *ErrPopulationInvariant) Error() string {
	return fmt.Sprintf("population invariant violated at iteration %d: %s", e.Iteration, e.Detail)
}

// Population owns the fixed-size rotating set of dendritic cells. The slot
// array is a fixed-capacity ring indexed by birth order: retiring a cell and
// spawning its replacement is an O(1) slot overwrite, so steady state always
// holds exactly lifespan live cells between iterations.
type Population struct {
	lifespan  int
	slots     []*Cell
	live      int
	iteration int64
}

// NewPopulation creates an empty population with the given cell lifespan,
// which is also the steady-state population size.
func NewPopulation(lifespan int) (*Population, error) {
	if lifespan < 1 {
		return nil, fmt.Errorf("cell lifespan must be >= 1, got %d", lifespan)
	}
	return &Population{
		lifespan: lifespan,
		slots:    make([]*Cell, lifespan),
	}, nil
}

// Step advances the population by one iteration: fill during ramp-up,
// broadcast the tuple to every live cell, age all cells, and retire the one
// whose lifespan is up, spawning its replacement in place. The retired cell
// (nil during ramp-up) is handed back for maturation.
//
// With broadcast false (malformed observation) the tuple is not applied, but
// the population still ages, retires, and spawns: time does not stop for a
// bad reading.
func (p *Population) Step(sig SignalTuple, broadcast bool) (*Cell, error) {
	p.iteration++

	// Ramp-up: one new cell per iteration until the ring is full. The slot
	// index equals the cell's birth order during this phase.
	if p.live < p.lifespan {
		idx := p.live
		if p.slots[idx] != nil {
			return nil, &ErrPopulationInvariant{p.iteration, fmt.Sprintf("ramp slot %d already occupied", idx)}
		}
		p.slots[idx] = newCell(p.iteration, p.lifespan)
		p.live++
	}

	var retired *Cell
	retiredIdx := -1

	for i, c := range p.slots {
		if c == nil {
			continue
		}
		if broadcast {
			c.observe(sig)
		}
		c.age++
		if c.age >= c.lifespan {
			if retired != nil {
				return nil, &ErrPopulationInvariant{p.iteration, "more than one cell aged out"}
			}
			retired = c
			retiredIdx = i
		}
	}

	if retired != nil {
		// O(1) replacement: the new cell takes the retired slot and starts
		// accumulating next iteration at age 0.
		p.slots[retiredIdx] = newCell(p.iteration, p.lifespan)
	}

	if p.iteration >= int64(p.lifespan) && p.live != p.lifespan {
		return nil, &ErrPopulationInvariant{p.iteration, fmt.Sprintf("live=%d want %d", p.live, p.lifespan)}
	}

	return retired, nil
}

// Len returns the number of live cells.
func (p *Population) Len() int { return p.live }

// Iteration returns the number of iterations processed so far.
func (p *Population) Iteration() int64 { return p.iteration }
