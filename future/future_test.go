// Copyright 2024-2025 The asynchttp Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package future

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompleteIsTerminal(t *testing.T) {
	t.Parallel()
	fut := New()
	require.False(t, fut.IsDone())
	require.False(t, fut.Successful())
	require.Equal(t, CauseNone, fut.Cause())

	require.True(t, fut.Complete("value"))
	require.True(t, fut.IsDone())
	require.True(t, fut.Successful())
	require.Equal(t, "value", fut.Value())
	require.NoError(t, fut.Err())

	// Later transitions are no-ops.
	require.False(t, fut.Fail(CauseTimedOut))
	require.False(t, fut.Complete("other"))
	require.Equal(t, "value", fut.Value())
	require.Equal(t, CauseNone, fut.Cause())
}

func TestFailIsTerminal(t *testing.T) {
	t.Parallel()
	fut := New()
	require.True(t, fut.Fail(CauseCannotConnect))
	require.True(t, fut.IsDone())
	require.False(t, fut.Successful())
	require.Equal(t, CauseCannotConnect, fut.Cause())
	require.Nil(t, fut.Value())

	var causeErr *CauseError
	require.ErrorAs(t, fut.Err(), &causeErr)
	require.Equal(t, CauseCannotConnect, causeErr.Cause)

	require.False(t, fut.Complete("late"))
	require.Nil(t, fut.Value())
}

func TestOnlyOneWriterWins(t *testing.T) {
	t.Parallel()
	fut := New()
	const writers = 32
	var wg sync.WaitGroup
	var wins int32
	results := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				results <- fut.Complete(i)
			} else {
				results <- fut.Fail(CauseTimedOut)
			}
		}()
	}
	wg.Wait()
	close(results)
	for won := range results {
		if won {
			wins++
		}
	}
	require.EqualValues(t, 1, wins)
	require.True(t, fut.IsDone())
}

func TestAwait(t *testing.T) {
	t.Parallel()
	fut := New()
	require.False(t, fut.Await(10*time.Millisecond))

	go func() {
		time.Sleep(20 * time.Millisecond)
		fut.Complete("done")
	}()
	require.True(t, fut.Await(time.Second))
	require.Equal(t, "done", fut.Value())

	// Terminal futures return immediately regardless of timeout.
	require.True(t, fut.Await(0))
}

func TestDoneChannel(t *testing.T) {
	t.Parallel()
	fut := New()
	select {
	case <-fut.Done():
		t.Fatal("done channel closed while pending")
	default:
	}
	fut.Fail(CauseShuttingDown)
	select {
	case <-fut.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed after failure")
	}
}

func TestListenerRunsOnceOnCompletion(t *testing.T) {
	t.Parallel()
	fut := New()
	var calls int
	fut.AddListener(func(f *Future) {
		calls++
		require.Same(t, fut, f)
		require.True(t, f.IsDone())
	})
	require.Equal(t, 0, calls)
	fut.Complete(1)
	require.Equal(t, 1, calls)
}

func TestListenerAfterTerminalRunsSynchronously(t *testing.T) {
	t.Parallel()
	fut := New()
	fut.Fail(CauseExecutionRejected)
	var called bool
	fut.AddListener(func(f *Future) {
		called = true
		require.Equal(t, CauseExecutionRejected, f.Cause())
	})
	require.True(t, called)
}

func TestCauseString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "none", CauseNone.String())
	require.Equal(t, "timed out", CauseTimedOut.String())
	require.Equal(t, "cannot connect", CauseCannotConnect.String())
	require.Equal(t, "shutting down", CauseShuttingDown.String())
	require.Equal(t, "write failed", CauseWriteFailed.String())
	require.Equal(t, "execution rejected", CauseExecutionRejected.String())
	require.Equal(t, "cause(99)", Cause(99).String())
}

func TestCauseError(t *testing.T) {
	t.Parallel()
	err := &CauseError{Cause: CauseTimedOut}
	require.Equal(t, "request failed: timed out", err.Error())
}
