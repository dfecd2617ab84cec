package sessionlock

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameSession(t *testing.T) {
	l := New()
	id := uuid.New()

	var n int
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(id)
			n++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 32, n)
	assert.Equal(t, 1, l.Len())
}

func TestForgetDropsEntryAndLockRecreates(t *testing.T) {
	l := New()
	a, b := uuid.New(), uuid.New()

	l.Lock(a)()
	l.Lock(b)()
	assert.Equal(t, 2, l.Len())

	l.Forget(a)
	assert.Equal(t, 1, l.Len())

	// a straggler gets a fresh mutex
	unlock := l.Lock(a)
	unlock()
	assert.Equal(t, 2, l.Len())
}
