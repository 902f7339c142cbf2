// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimerManager_AddRemove(t *testing.T) {
	m := NewTimerManager[string]()
	before := m.Len()

	id := m.Add("cb")
	require.Equal(t, uint32(1), id)
	cb, ok := m.Remove(id)
	require.True(t, ok)
	require.Equal(t, "cb", cb)
	require.Equal(t, before, m.Len())

	_, ok = m.Remove(id)
	require.False(t, ok, "second remove must miss")
	_, ok = m.Get(id)
	require.False(t, ok)
}

func TestTimerManager_IDsIncrease(t *testing.T) {
	m := NewTimerManager[int]()
	a := m.Add(1)
	m.Remove(a)
	b := m.Add(2)
	require.Greater(t, b, a)

	v, ok := m.Get(b)
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestTimerManager_Clear(t *testing.T) {
	m := NewTimerManager[int]()
	for i := 0; i < 5; i++ {
		m.Add(i)
	}
	got := m.Clear()
	sort.Ints(got)
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
	require.Zero(t, m.Len())
}

func TestTimerManager_Concurrent(t *testing.T) {
	m := NewTimerManager[int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := m.Add(i)
				if _, ok := m.Remove(id); !ok {
					t.Errorf("timer %d vanished", id)
				}
			}
		}()
	}
	wg.Wait()
	require.Zero(t, m.Len())
}
