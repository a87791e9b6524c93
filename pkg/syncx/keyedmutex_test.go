package syncx_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/charlalabs/charla-gateway/pkg/syncx"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()
	km := syncx.NewKeyedMutex()
	const n = 50
	counter := 0
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			release := km.Acquire("u1")
			defer release()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	t.Parallel()
	km := syncx.NewKeyedMutex()
	releaseA := km.Acquire("a")
	done := make(chan struct{})
	go func() {
		releaseB := km.Acquire("b")
		releaseB()
		close(done)
	}()
	<-done // key b must not wait on key a
	releaseA()
	assert.Equal(t, 2, km.Len())
}

func TestKeyedMutex_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()
	km := syncx.NewKeyedMutex()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := km.Acquire("fresh")
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, km.Len())
}
