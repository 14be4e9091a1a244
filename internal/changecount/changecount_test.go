package changecount

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	t.Run("starts at zero", func(t *testing.T) {
		assert.Equal(t, int64(0), New().Get())
	})

	t.Run("increment variants", func(t *testing.T) {
		c := New()
		assert.Equal(t, int64(1), c.IncrementAndGet())
		assert.Equal(t, int64(1), c.GetAndIncrement())
		assert.Equal(t, int64(2), c.Get())
	})

	t.Run("observer called once per increment", func(t *testing.T) {
		c := New()
		var seen []int64
		c.AddObserver(ObserverFunc(func(source *Counter, value int64) {
			assert.Same(t, c, source)
			seen = append(seen, value)
		}))

		c.IncrementAndGet()
		c.IncrementAndGet()
		c.GetAndIncrement()

		assert.Equal(t, []int64{1, 2, 3}, seen)
	})

	t.Run("remove observer", func(t *testing.T) {
		c := New()
		calls := 0
		remove := c.AddObserver(ObserverFunc(func(*Counter, int64) { calls++ }))

		c.IncrementAndGet()
		remove()
		remove()
		c.IncrementAndGet()

		assert.Equal(t, 1, calls)
	})

	t.Run("child forwards to aggregate", func(t *testing.T) {
		aggregate := New()
		a, b := New(), New()
		a.AddObserver(aggregate)
		b.AddObserver(aggregate)

		a.IncrementAndGet()
		b.IncrementAndGet()
		b.IncrementAndGet()

		assert.Equal(t, int64(1), a.Get())
		assert.Equal(t, int64(2), b.Get())
		assert.Equal(t, int64(3), aggregate.Get())
	})

	t.Run("observer may read the counter", func(t *testing.T) {
		c := New()
		var read int64
		c.AddObserver(ObserverFunc(func(source *Counter, _ int64) {
			read = source.Get()
		}))

		c.IncrementAndGet()
		assert.Equal(t, int64(1), read)
	})
}

func TestCounter_Concurrent(t *testing.T) {
	c := New()
	aggregate := New()
	c.AddObserver(aggregate)

	const workers, perWorker = 8, 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := int64(0)
			for j := 0; j < perWorker; j++ {
				v := c.IncrementAndGet()
				assert.Greater(t, v, last)
				last = v
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), c.Get())
	assert.Equal(t, int64(workers*perWorker), aggregate.Get())
}
