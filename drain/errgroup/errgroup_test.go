//go:build unit

package errgroup_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-drain/drain/errgroup"
	"github.com/LerianStudio/lib-drain/drain/log"
)

func TestWithContext_AllSucceed(t *testing.T) {
	t.Parallel()

	group, _ := errgroup.WithContext(context.Background())

	group.Go(func() error { return nil })
	group.Go(func() error { return nil })

	assert.NoError(t, group.Wait())
}

func TestWithContext_ErrorCancelsContext(t *testing.T) {
	t.Parallel()

	expectedErr := errors.New("listener failed")
	group, groupCtx := errgroup.WithContext(context.Background())

	group.Go(func() error { return expectedErr })
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	err := group.Wait()
	require.Error(t, err)
	assert.Equal(t, expectedErr, err)
}

func TestZeroValue_ErrorDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	var group errgroup.Group

	var finished atomic.Bool

	expectedErr := errors.New("listener failed")

	group.Go(func() error { return expectedErr })
	group.Go(func() error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)

		return nil
	})

	assert.Equal(t, expectedErr, group.Wait())
	assert.True(t, finished.Load(), "Wait must return only after every goroutine finished")
}

func TestGo_PanicBecomesError(t *testing.T) {
	t.Parallel()

	var group errgroup.Group
	group.SetLogger(log.NewNop())
	group.SetName("shutdown")

	group.Go(func() error { panic("drain loop exploded") })

	err := group.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, errgroup.ErrPanicRecovered)
	assert.Contains(t, err.Error(), "drain loop exploded")
}

func TestNilGroupSetters(t *testing.T) {
	t.Parallel()

	var group *errgroup.Group

	assert.NotPanics(t, func() {
		group.SetLogger(log.NewNop())
		group.SetName("x")
	})
}
