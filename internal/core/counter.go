package core

import "sync/atomic"

// VisitorCounter counts visitors across the whole process. It is the
// one piece of state touched both inside the broker loop (on connect)
// and outside it (the /count/ handler), so it stays atomic.
type VisitorCounter struct {
	n atomic.Int64
}

func NewVisitorCounter() *VisitorCounter {
	return &VisitorCounter{}
}

// Inc increments the counter and returns the new value.
func (c *VisitorCounter) Inc() int64 {
	return c.n.Add(1)
}

// Current returns the value without incrementing.
func (c *VisitorCounter) Current() int64 {
	return c.n.Load()
}
