package once

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnceRunsExactlyOnceUnderConcurrency(t *testing.T) {
	var o Once
	var runs atomic.Int64
	var wg sync.WaitGroup

	const goroutines = 64
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			o.Do(func() { runs.Add(1) })
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), runs.Load())
}

func TestDoneReportsAfterAnyCallerReturns(t *testing.T) {
	var o Once
	assert.False(t, o.Done())
	o.Do(func() {})
	assert.True(t, o.Done())
}
