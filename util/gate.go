package util

import "context"

// A Gate limits concurrency. Every gate has a maximum number of goroutines
// to allow through at a time. Goroutines enter the gate by calling Enter(),
// and signal that they are done by calling Leave(). A stopped gate refuses
// all further entries, which lets waiters fail instead of hanging when the
// resource behind the gate goes away.
type Gate struct {
	c    chan struct{}
	stop chan struct{}
}

// NewGate returns a Gate which accepts at most n entries at a time.
func NewGate(n int) *Gate {
	return &Gate{
		c:    make(chan struct{}, n),
		stop: make(chan struct{}),
	}
}

// Enter blocks the calling goroutine until there are fewer than n goroutines
// inside, or until the gate is stopped. It returns false if the gate was
// stopped, in which case the caller must not call Leave.
func (g *Gate) Enter() bool {
	select {
	case g.c <- struct{}{}:
		return true
	case <-g.stop:
		return false
	}
}

// EnterContext is Enter with a context. It returns false if the context was
// cancelled or the gate stopped before a slot opened up.
func (g *Gate) EnterContext(ctx context.Context) bool {
	select {
	case g.c <- struct{}{}:
		return true
	case <-g.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Leave marks a goroutine outside the critical section. Balance each
// successful Enter with a call to Leave. Enter and Leave do not need to be
// called from the same goroutine, necessarily.
func (g *Gate) Leave() {
	<-g.c
}

// Stop causes all current and future Enter calls to return false. It is safe
// to call Stop while goroutines are inside the gate; they should still call
// Leave as usual.
func (g *Gate) Stop() {
	close(g.stop)
}
