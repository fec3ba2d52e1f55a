package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRunsTaskOnSchedule(t *testing.T) {
	s := New(context.Background(), nil)
	var runs int32
	err := s.Register(Task{
		Name: "tick",
		Spec: "@every 10ms",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})
	require.NoError(t, err)

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	s := New(context.Background(), nil)
	err := s.Register(Task{Name: "bad", Spec: "not a cron spec", Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}
