// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageLoop_PostTaskFIFO(t *testing.T) {
	loop := NewMessageLoop()
	defer loop.Stop()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		loop.PostTask(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	require.NoError(t, loop.Run(func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestMessageLoop_DelayedTasksOrder(t *testing.T) {
	loop := NewMessageLoop()
	defer loop.Stop()

	done := make(chan struct{})
	var got []string
	// All callbacks run on the loop, so got needs no lock.
	loop.PostDelayedTask(func() { got = append(got, "late") }, 40*time.Millisecond)
	loop.PostDelayedTask(func() { got = append(got, "a") }, 10*time.Millisecond)
	loop.PostDelayedTask(func() { got = append(got, "b") }, 10*time.Millisecond)
	loop.PostTask(func() { got = append(got, "now") })
	loop.PostDelayedTask(func() { close(done) }, 60*time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delayed tasks did not run")
	}
	var snapshot []string
	require.NoError(t, loop.Run(func() error {
		snapshot = append(snapshot, got...)
		return nil
	}))
	require.Equal(t, []string{"now", "a", "b", "late"}, snapshot)
}

func TestMessageLoop_RunReturnsError(t *testing.T) {
	loop := NewMessageLoop()
	defer loop.Stop()

	want := errors.New("boom")
	require.ErrorIs(t, loop.Run(func() error { return want }), want)
}

func TestMessageLoop_RunRecoversPanic(t *testing.T) {
	loop := NewMessageLoop(WithLoopName("test"))
	defer loop.Stop()

	err := loop.Run(func() error { panic("bad script") })
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic in test loop: bad script")

	// The loop keeps serving after a panic.
	require.NoError(t, loop.Run(func() error { return nil }))
}

func TestMessageLoop_NestedRunIsInline(t *testing.T) {
	loop := NewMessageLoop()
	defer loop.Stop()

	var inner, onLoop bool
	err := loop.Run(func() error {
		onLoop = loop.OnLoop()
		return loop.Run(func() error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, onLoop)
	require.True(t, inner)
	require.False(t, loop.OnLoop())
}

func TestMessageLoop_Stop(t *testing.T) {
	loop := NewMessageLoop()
	block := make(chan struct{})
	loop.PostTask(func() { <-block })

	waiting := make(chan error, 1)
	go func() { waiting <- loop.Run(func() error { return nil }) }()
	for loop.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		loop.Stop()
		close(stopped)
	}()
	for !isStopped(loop) {
		time.Sleep(time.Millisecond)
	}
	close(block)

	select {
	case err := <-waiting:
		require.ErrorIs(t, err, ErrLoopStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	<-stopped
	<-loop.Done()

	require.ErrorIs(t, loop.Run(func() error { return nil }), ErrLoopStopped)
	loop.PostTask(func() { t.Error("task ran after stop") })
}

func TestMessageLoop_TaskCount(t *testing.T) {
	loop := NewMessageLoop()
	defer loop.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, loop.Run(func() error { return nil }))
	}
	require.Equal(t, uint64(3), loop.TaskCount())
}

func isStopped(l *MessageLoop) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
