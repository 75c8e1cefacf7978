package safety

import (
	"fmt"
	"sync"
)

// Guard admits one safety operation at a time.
type Guard struct {
	mu   sync.Mutex
	busy bool
	op   string
}

// Acquire takes the guard for op or fails with ErrBusy. The returned release
// func is idempotent.
func (g *Guard) Acquire(op string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return nil, fmt.Errorf("%w: %s", ErrBusy, g.op)
	}
	g.busy = true
	g.op = op

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.busy = false
			g.op = ""
			g.mu.Unlock()
		})
	}, nil
}

// Busy returns the running operation, if any.
func (g *Guard) Busy() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.op, g.busy
}
