package kafka

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	wp := NewPool("test", 2, quietLogger())
	assert.Equal(t, 2, wp.Size())

	var running, peak, done atomic.Int32
	for i := 0; i < 10; i++ {
		wp.Go(func() {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
		})
	}
	wp.Wait()

	assert.Equal(t, int32(10), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	wp := NewPool("test", 0, quietLogger())
	assert.Equal(t, 1, wp.Size())

	var ran atomic.Bool
	wp.Go(func() { panic("worker exploded") })
	wp.Go(func() { ran.Store(true) })
	wp.Wait()

	assert.True(t, ran.Load())
}
