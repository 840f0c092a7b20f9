package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLoop_RunsAllSourcesAndJoinsErrors(t *testing.T) {
	loop := New(zap.NewNop().Sugar())

	errA := errors.New("source a failed")
	loop.Register("a", func(ctx context.Context) error {
		return errA
	})
	loop.Register("b", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, errA)
}

func TestLoop_NoErrorsReturnsNil(t *testing.T) {
	loop := New(zap.NewNop().Sugar())
	loop.Register("a", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, loop.Run(ctx))
}
