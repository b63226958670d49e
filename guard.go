package querystate

import (
	"sync"
	"sync/atomic"
)

// reentrancyGuard marks a reverse pass in progress. It counts holders so a
// nested pass does not clear the mark for the outer one.
type reentrancyGuard struct {
	depth atomic.Int32
}

// acquire marks the guard held and returns its release. Release is safe to
// call more than once; only the first call counts.
func (g *reentrancyGuard) acquire() func() {
	g.depth.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { g.depth.Add(-1) })
	}
}

func (g *reentrancyGuard) held() bool {
	return g.depth.Load() > 0
}
