package goroutine

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// StackTraceBufferSize is the buffer size for stack trace collection
const StackTraceBufferSize = 4096

// ErrPanic wraps a panic converted into an error by Catch
var ErrPanic = errors.New("recovered panic")

func stack() string {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Recover recovers from panics in background goroutines and logs them.
// It must be deferred directly. With a nil logger the panic goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}

	trace := stack()
	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, trace)
		return
	}
	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", trace)
}

// Catch runs fn and converts a panic into an error wrapping ErrPanic, so a
// request path can fall back instead of tearing down the connection.
func Catch(name string, logger *zap.SugaredLogger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Errorw("Panic recovered",
					"component", name,
					"panic", r,
					"stack", stack())
			}
			err = fmt.Errorf("%w in %s: %v", ErrPanic, name, r)
		}
	}()
	return fn()
}
