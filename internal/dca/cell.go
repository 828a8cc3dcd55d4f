package dca

import "time"

// antigenHistory tracks one antigen's occurrences within a single cell's
// lifetime. The per-occurrence PAMP+Danger values are summed so the
// maturation engine can average them (MCAV) instead of biasing toward
// high-frequency nodes.
type antigenHistory struct {
	count    int
	matSum   float64 // sum of PAMP+Danger at each occurrence
	lastSeen time.Time
}

// Cell is one maturing evidence-accumulation unit. It is created by the
// population, mutated once per iteration by the accumulator, and consumed by
// the maturation engine exactly lifespan iterations after birth.
type Cell struct {
	birthIteration int64
	age            int
	lifespan       int

	csmTotal float64
	matTotal float64

	antigens map[string]*antigenHistory
	// first-seen antigen order, so record emission is deterministic
	order []string
}

func newCell(birth int64, lifespan int) *Cell {
	return &Cell{
		birthIteration: birth,
		lifespan:       lifespan,
		antigens:       make(map[string]*antigenHistory),
	}
}

// observe integrates one signal tuple into the cell's running totals and
// records the carried antigen. csm drives the semi-mature-vs-mature decision
// and is clamped at 0 from below to avoid unbounded negative drift; mat is
// the danger-only partial sum behind the anomaly coefficient.
func (c *Cell) observe(sig SignalTuple) {
	stress := sig.PAMP + sig.Danger

	c.csmTotal += stress - sig.Safe + sig.IC
	if c.csmTotal < 0 {
		c.csmTotal = 0
	}
	c.matTotal += stress

	h, ok := c.antigens[sig.Antigen]
	if !ok {
		h = &antigenHistory{}
		c.antigens[sig.Antigen] = h
		c.order = append(c.order, sig.Antigen)
	}
	h.count++
	h.matSum += stress
	if sig.Timestamp.After(h.lastSeen) {
		h.lastSeen = sig.Timestamp
	}
}

// Age returns the number of iterations since the cell's birth.
func (c *Cell) Age() int { return c.age }

// BirthIteration returns the iteration the cell was created in.
func (c *Cell) BirthIteration() int64 { return c.birthIteration }

// CSMTotal returns the accumulated co-stimulatory total.
func (c *Cell) CSMTotal() float64 { return c.csmTotal }

// MatTotal returns the accumulated PAMP+Danger total.
func (c *Cell) MatTotal() float64 { return c.matTotal }
