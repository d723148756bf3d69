package util

import (
	"context"
	"errors"
	"sync"
	"time"
)

// A Throttle limits how many bytes of work may be consumed per unit of time.
// Every interval a fixed number of credits is added to the pool. Workers call
// Use() as they consume bytes and Wait() before starting the next piece of
// work. If the pool is negative, Wait blocks until the balance goes positive
// again. This keeps background work from monopolizing disk and CPU.
type Throttle struct {
	c       chan struct{} // receives when the balance is positive
	stop    chan struct{} // close to shut down the refill goroutine
	m       sync.Mutex    // protects credits
	credits int64
}

// Interval between refills. Shorter means more wakeups, longer means
// background work pauses in bigger chunks.
const refillInterval = time.Second

// ErrThrottleStopped means a Wait failed because the throttle was stopped.
var ErrThrottleStopped = errors.New("throttle stopped")

// NewThrottle returns a throttle admitting roughly bytesPerSec of work per
// second. The initial balance is one interval's worth of credits. Rates
// below one byte per second are clamped to one; a zero rate would leave the
// balance non-positive forever and block every Wait.
func NewThrottle(bytesPerSec int64) *Throttle {
	if bytesPerSec < 1 {
		bytesPerSec = 1
	}
	amount := bytesPerSec * int64(refillInterval/time.Second)
	t := &Throttle{
		c:       make(chan struct{}),
		stop:    make(chan struct{}),
		credits: amount,
	}
	go t.refill(amount)
	return t
}

// Use deducts count credits. It is fine for the balance to go negative;
// subsequent Waits will block until it recovers.
func (t *Throttle) Use(count int64) {
	t.m.Lock()
	t.credits -= count
	t.m.Unlock()
}

// Wait blocks until the credit balance is positive, the context is done, or
// the throttle is stopped.
func (t *Throttle) Wait(ctx context.Context) error {
	select {
	case _, ok := <-t.c:
		if !ok {
			return ErrThrottleStopped
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down the refill goroutine and releases all waiters with an
// error. Must not be called twice.
func (t *Throttle) Stop() {
	close(t.stop)
}

func (t *Throttle) refill(amount int64) {
	tick := time.NewTicker(refillInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		t.m.Lock()
		if t.credits > 0 {
			signal = t.c
		}
		t.m.Unlock()
		select {
		case <-tick.C:
			t.Use(-amount)
		case signal <- struct{}{}:
		case <-t.stop:
			close(t.c)
			return
		}
	}
}
