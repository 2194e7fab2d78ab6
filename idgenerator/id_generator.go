// Package idgenerator allocates connection ids for transports. Id 0 is
// reserved to mean "no connection" and is never handed out.
package idgenerator

import "sync/atomic"

// IdGenerator generates increasing uint32 connection ids in a concurrency-safe
// manner. After the counter wraps around it skips 0.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id() returns
// startValue+1 (or 1 when that would be 0).
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. It never returns 0.
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id, or the start value when none has
// been issued yet.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
