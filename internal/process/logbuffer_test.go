package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogBufferTrimsToMaxEntries(t *testing.T) {
	lb := NewLogBuffer(3)
	lb.Write("stdout", "one")
	lb.Write("stdout", "two")
	lb.Write("stdout", "three")
	lb.Write("stdout", "four")

	recent := lb.Recent(10)
	require.Len(t, recent, 3)
	require.Equal(t, "two", recent[0].Line)
	require.Equal(t, "four", recent[2].Line)
}

func TestLogBufferRecentLimitsCount(t *testing.T) {
	lb := NewLogBuffer(10)
	for _, line := range []string{"a", "b", "c"} {
		lb.Write("stdout", line)
	}

	recent := lb.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, "b", recent[0].Line)
	require.Equal(t, "c", recent[1].Line)
}

func TestLogBufferSubscribeReceivesNewEntries(t *testing.T) {
	lb := NewLogBuffer(10)
	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)

	lb.Write("stderr", "boom")

	select {
	case entry := <-ch:
		require.Equal(t, "boom", entry.Line)
		require.Equal(t, "stderr", entry.Stream)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive entry")
	}
}

func TestLogBufferUnsubscribeClosesChannel(t *testing.T) {
	lb := NewLogBuffer(10)
	ch := lb.Subscribe()
	lb.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)
}
