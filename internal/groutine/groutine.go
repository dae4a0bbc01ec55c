// Package groutine starts named goroutines. Names show up as pprof labels,
// which makes the delivery and monitor goroutines easy to find in profiles
// and goroutine dumps.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn in a new goroutine labelled with name and returns a channel that
// is closed once fn returns. A nil parent uses context.Background().
//
//	done := groutine.Go(ctx, "delivery", func(ctx context.Context) {
//	    // work
//	})
//	<-done
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}
	done := make(chan struct{})
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parent, labels, func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, nameKey, name))
	})
	return done
}

// Name returns the name a goroutine was started with, taken from its context.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(nameKey).(string); ok {
		return s
	}
	return ""
}

// ID returns the runtime id of the calling goroutine, parsed from the stack
// header. It is used to detect re-entrant calls from a delivery goroutine.
func ID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return id
}
