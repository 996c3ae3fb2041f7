package errgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-drain/drain/log"
	"github.com/LerianStudio/lib-drain/drain/runtime"
)

// ErrPanicRecovered is returned when a goroutine in the group panics.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// Group manages a set of goroutines. The first error returned by any goroutine
// is kept and returned by Wait; later errors are discarded.
//
// A Group created with WithContext cancels its context on the first error.
// The zero value never cancels anything, which is what callers want when every
// goroutine must run to completion regardless of its siblings.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	logger  log.Logger
	name    string
}

// SetLogger sets the logger used when a goroutine panics.
func (grp *Group) SetLogger(logger log.Logger) {
	if grp == nil {
		return
	}

	grp.logger = logger
}

// SetName labels recovered panics with the owning component.
func (grp *Group) SetName(name string) {
	if grp == nil {
		return
	}

	grp.name = name
}

func (grp *Group) effectiveCtx() context.Context {
	if grp.ctx != nil {
		return grp.ctx
	}

	return context.Background()
}

func (grp *Group) component() string {
	if grp.name != "" {
		return grp.name
	}

	return "errgroup"
}

// WithContext returns a new Group and a derived context that is cancelled when
// the first goroutine returns a non-nil error or when Wait returns.
func WithContext(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	return &Group{ctx: ctx, cancel: cancel}, ctx
}

// Go starts fn in a new goroutine.
func (grp *Group) Go(fn func() error) {
	grp.wg.Add(1)

	go func() {
		defer grp.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				runtime.HandlePanicValue(grp.effectiveCtx(), grp.logger, recovered, grp.component(), "group.Go")

				grp.setErr(fmt.Errorf("%w: %v", ErrPanicRecovered, recovered))
			}
		}()

		if err := fn(); err != nil {
			grp.setErr(err)
		}
	}()
}

func (grp *Group) setErr(err error) {
	grp.errOnce.Do(func() {
		grp.err = err
		if grp.cancel != nil {
			grp.cancel()
		}
	})
}

// Wait blocks until every goroutine has returned, then returns the first
// error recorded by Go.
func (grp *Group) Wait() error {
	grp.wg.Wait()

	if grp.cancel != nil {
		grp.cancel()
	}

	return grp.err
}
