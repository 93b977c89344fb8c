// Package stepcount counts steps and tracks left/right balance from a stream
// of mass reports.
package stepcount

import (
	"sync"

	"github.com/colspan/wiiboard-simple/internal/board"
)

// Defaults used when a Counter is created with zero values.
const (
	DefaultMinWeight = 10.0
	DefaultWindow    = 800
)

type sample struct {
	left, right float64
}

// Counter counts a step every time the heavier side of the board flips.
// Reports at or below MinWeight are ignored so that an empty board does not
// produce steps. A Counter is safe for concurrent use.
type Counter struct {
	minWeight float64
	window    int

	mu      sync.Mutex
	steps   int
	hasLast bool
	leftOn  bool // heavier side of the previous report
	samples []sample
	next    int // ring index once samples is full
}

// New returns a Counter. Non-positive window and negative minWeight fall
// back to the defaults.
func New(minWeight float64, window int) *Counter {
	if minWeight < 0 {
		minWeight = DefaultMinWeight
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Counter{
		minWeight: minWeight,
		window:    window,
		samples:   make([]sample, 0, window),
	}
}

// Update feeds one mass report and reports whether it counted a step.
func (c *Counter) Update(ev board.MassEvent) bool {
	if ev.Total <= c.minWeight {
		return false
	}
	left, right := ev.Left(), ev.Right()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := sample{left: left, right: right}
	if len(c.samples) < c.window {
		c.samples = append(c.samples, s)
	} else {
		c.samples[c.next] = s
		c.next = (c.next + 1) % c.window
	}

	leftOn := left > right
	stepped := !c.hasLast || leftOn != c.leftOn
	if stepped {
		c.steps++
	}
	c.hasLast, c.leftOn = true, leftOn
	return stepped
}

// Steps returns the number of steps since the last Reset.
func (c *Counter) Steps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps
}

// Balance returns the share of weight on each side, in percent, over the
// last window of reports. ok is false until a report has been counted.
func (c *Counter) Balance() (left, right float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sumLeft, sumRight float64
	for _, s := range c.samples {
		sumLeft += s.left
		sumRight += s.right
	}
	sum := sumLeft + sumRight
	if sum <= 0 {
		return 0, 0, false
	}
	return sumLeft / sum * 100, sumRight / sum * 100, true
}

// Reset clears the step count and the balance window.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = 0
	c.hasLast = false
	c.samples = c.samples[:0]
	c.next = 0
}

// Center returns the centre of pressure in the unit square, x growing to the
// right and y growing towards the bottom edge. ok is false for an empty board.
func Center(ev board.MassEvent) (x, y float64, ok bool) {
	if ev.Total <= 0 {
		return 0, 0, false
	}
	return ev.Right() / ev.Total, (ev.BottomLeft + ev.BottomRight) / ev.Total, true
}
