package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/vitalink/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows "<prefix> (<phase> Ns)" on one line, counting up or,
// when duration is set, down. Stop must be called to release the goroutine.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	phase    string
	duration time.Duration

	outMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    <-chan struct{}
	stopped bool
}

// NewProgressPrinter counts elapsed seconds.
func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	return &ProgressPrinter{out: out, prefix: prefix, phase: phase}
}

// NewCountdownProgressPrinter counts down from duration.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{out: out, prefix: prefix, phase: phase, duration: duration}
}

func (p *ProgressPrinter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		panic("ProgressPrinter.Start called more than once")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	start := time.Now()
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase)

	p.done = groutine.Go(ctx, "progress", func(ctx context.Context) {
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.outMu.Lock()
				fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.phase, p.seconds(time.Since(start)))
				p.outMu.Unlock()
			}
		}
	})
}

// Println prints a line above the progress line; the next tick redraws it.
func (p *ProgressPrinter) Println(a ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprint(p.out, clearLineSequence)
	fmt.Fprintln(p.out, a...)
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.duration == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

// Stop clears the progress line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.done == nil {
		return
	}
	p.stopped = true
	p.cancel()
	<-p.done
	fmt.Fprint(p.out, clearLineSequence)
}
