package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcTask struct {
	calls atomic.Int32
	fn    func(n int32) error
}

func (f *funcTask) Name() string { return "test-task" }

func (f *funcTask) Run(context.Context) error {
	return f.fn(f.calls.Add(1))
}

func TestPeriodicRunsUntilCancelled(t *testing.T) {
	log, _ := test.NewNullLogger()
	task := &funcTask{fn: func(int32) error { return nil }}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewPeriodic(task, 5*time.Millisecond, log).Run(ctx) }()

	require.Eventually(t, func() bool { return task.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestPeriodicSurvivesErrorsAndPanics(t *testing.T) {
	log, hook := test.NewNullLogger()
	task := &funcTask{fn: func(n int32) error {
		switch n {
		case 1:
			return errors.New("redis unavailable")
		case 2:
			panic("nil seat map")
		}
		return nil
	}}
	p := NewPeriodic(task, time.Hour, log)
	ctx := context.Background()

	p.Once(ctx)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "iteration failed", hook.LastEntry().Message)

	assert.NotPanics(t, func() { p.Once(ctx) })
	assert.Contains(t, hook.LastEntry().Message, "nil seat map")

	hook.Reset()
	p.Once(ctx)
	assert.Empty(t, hook.AllEntries())
	assert.EqualValues(t, 3, task.calls.Load())
}

func TestOnceSkipsWhenCancelled(t *testing.T) {
	log, _ := test.NewNullLogger()
	task := &funcTask{fn: func(int32) error { return nil }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewPeriodic(task, time.Second, log).Once(ctx)
	assert.Zero(t, task.calls.Load())
}
