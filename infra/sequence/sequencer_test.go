package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsMonotonic(t *testing.T) {
	s := New(41)
	assert.Equal(t, uint64(42), s.Next())
	assert.Equal(t, uint64(43), s.Next())
	assert.Equal(t, uint64(43), s.Current())

	s.Observe(10)
	assert.Equal(t, uint64(43), s.Current())
	s.Observe(100)
	assert.Equal(t, uint64(101), s.Next())

	s.Reset(5)
	assert.Equal(t, uint64(6), s.Next())
}

func TestNextConcurrentUnique(t *testing.T) {
	s := New(0)
	var (
		mu   sync.Mutex
		seen = map[uint64]bool{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 800)
	assert.Equal(t, uint64(800), s.Current())
}
