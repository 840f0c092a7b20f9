// Package eventloop runs one logical process driving both protocol
// sides to completion and reports every failure, not just the first.
// Go's net package already multiplexes readiness internally, so this
// package doesn't reimplement an epoll wait/dispatch cycle — it just
// runs one goroutine per readiness source and joins them with a
// WaitGroup and error aggregation instead of a single OS-level wait call.
package eventloop

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Source is one readiness-driven sub-loop (the GW stream listener, the GS
// datagram loop, ...). A Source must block until ctx is canceled or it hits
// an unrecoverable error.
type Source func(ctx context.Context) error

// Loop runs every registered Source concurrently and blocks until all of
// them return, aggregating every non-nil error instead of stopping at
// the first: one source faulting doesn't stop the others from running.
type Loop struct {
	log     *zap.SugaredLogger
	sources []namedSource
}

type namedSource struct {
	name string
	fn   Source
}

func New(log *zap.SugaredLogger) *Loop {
	return &Loop{log: log}
}

// Register adds a named Source. Call before Run.
func (l *Loop) Register(name string, fn Source) {
	l.sources = append(l.sources, namedSource{name: name, fn: fn})
}

// Run drives every registered source until ctx is canceled, then waits
// for all of them to unwind. It returns the joined set of errors any
// source reported, or nil if every source exited cleanly.
func (l *Loop) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error

	for _, src := range l.sources {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.fn(ctx); err != nil {
				l.log.Errorw("event loop source exited with error", "source", src.name, "err", err)
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return result.ErrorOrNil()
}
