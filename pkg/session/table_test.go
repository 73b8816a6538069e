package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	closed int32
	err    error
}

func (h *stubHandler) Close() error {
	atomic.AddInt32(&h.closed, 1)
	return h.err
}

func TestTableInsertLookupRemove(t *testing.T) {
	tbl := NewTable()

	s := New("s1", NewBridge("s1"), &stubHandler{})
	_, ok := tbl.Insert(s)
	require.True(t, ok)
	require.Equal(t, 1, tbl.Len())

	got, ok := tbl.Lookup("s1")
	require.True(t, ok)
	require.Same(t, s, got)

	_, ok = tbl.Lookup("missing")
	require.False(t, ok)

	removed, ok := tbl.Remove("s1")
	require.True(t, ok)
	require.Same(t, s, removed)
	require.Equal(t, 0, tbl.Len())

	_, ok = tbl.Remove("s1")
	require.False(t, ok)
}

func TestTableInsertConflict(t *testing.T) {
	tbl := NewTable()

	first := New("s1", NewBridge("s1"), &stubHandler{})
	_, ok := tbl.Insert(first)
	require.True(t, ok)

	second := New("s1", NewBridge("s1"), &stubHandler{})
	existing, ok := tbl.Insert(second)
	require.False(t, ok)
	require.Same(t, first, existing)

	// The table still holds the winner.
	got, _ := tbl.Lookup("s1")
	require.Same(t, first, got)
}

func TestTableConcurrentInsertSingleWinner(t *testing.T) {
	tbl := NewTable()

	const n = 32
	var wins int32
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New("dup", NewBridge("dup"), &stubHandler{})
			if _, ok := tbl.Insert(s); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&wins))
	require.Equal(t, 1, tbl.Len())
}

func TestTableDrain(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("s%d", i)
		_, ok := tbl.Insert(New(id, NewBridge(id), &stubHandler{}))
		require.True(t, ok)
	}

	drained := tbl.Drain()
	require.Len(t, drained, 5)
	require.Equal(t, 0, tbl.Len())

	// Drain on an empty table is a no-op.
	require.Empty(t, tbl.Drain())
}

func TestSessionCloseOnce(t *testing.T) {
	h := &stubHandler{}
	s := New("s1", NewBridge("s1"), h)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.EqualValues(t, 1, atomic.LoadInt32(&h.closed))
}

func TestSessionCloseReturnsHandlerError(t *testing.T) {
	h := &stubHandler{err: fmt.Errorf("handler teardown failed")}
	s := New("s1", NewBridge("s1"), h)

	err := s.Close()
	require.ErrorContains(t, err, "handler teardown failed")

	// The same error again, but without a second handler close.
	err = s.Close()
	require.ErrorContains(t, err, "handler teardown failed")
	require.EqualValues(t, 1, atomic.LoadInt32(&h.closed))
}
