package testing

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// CheckGoroutineCleanup verifies no goroutines outlive the test.
// Usage: defer CheckGoroutineCleanup(t)() before starting any background loop.
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := runtime.NumGoroutine()

	return func() {
		t.Helper()
		assert.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 20*time.Millisecond,
			"goroutine leak: started with %d goroutines", before)

		if after := runtime.NumGoroutine(); after > before {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Logf("Stack traces:\n%s", buf[:n])
		}
	}
}

// WaitForGoroutines waits for a WaitGroup with timeout, so a stuck Stop fails
// the test instead of hanging it.
func WaitForGoroutines(wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("goroutines did not exit within timeout")
	}
}

// WithinTimeout runs fn and fails the test if it does not return in time
func WithinTimeout(t *testing.T, timeout time.Duration, what string, fn func()) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
	if err := WaitForGoroutines(&wg, timeout); err != nil {
		t.Fatalf("%s did not complete within %s", what, timeout)
	}
}
