package inputlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireAndReacquireBySameHolderRenews(t *testing.T) {
	m := New(50 * time.Millisecond)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	_, err = m.Acquire("session1", "agent-a")
	require.NoError(t, err)
}

func TestAcquireByDifferentHolderFailsWhileHeld(t *testing.T) {
	m := New(time.Second)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	_, err = m.Acquire("session1", "agent-b")
	require.ErrorIs(t, err, ErrLocked)
}

func TestAcquireAfterExpirySucceedsForNewHolder(t *testing.T) {
	m := New(20 * time.Millisecond)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = m.Acquire("session1", "agent-b")
	require.NoError(t, err)
}

func TestHeartbeatExtendsLease(t *testing.T) {
	m := New(30 * time.Millisecond)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = m.Heartbeat("session1", "agent-a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = m.Acquire("session1", "agent-b")
	require.ErrorIs(t, err, ErrLocked, "heartbeat should have kept the lease alive past the original TTL")
}

func TestReleaseByNonHolderFails(t *testing.T) {
	m := New(time.Second)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	err = m.Release("session1", "agent-b")
	require.ErrorIs(t, err, ErrNotHolder)
}

func TestForceReleaseAlwaysSucceeds(t *testing.T) {
	m := New(time.Second)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	m.ForceRelease("session1")
	_, ok := m.Get("session1")
	require.False(t, ok)
}

func TestSetTypingRequiresHolder(t *testing.T) {
	m := New(time.Second)
	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	require.NoError(t, m.SetTyping("session1", "agent-a", true))
	lock, ok := m.Get("session1")
	require.True(t, ok)
	require.True(t, lock.Typing)

	err = m.SetTyping("session1", "agent-b", true)
	require.ErrorIs(t, err, ErrNotHolder)
}

func TestExpiryHookFiresOnSweep(t *testing.T) {
	m := New(10 * time.Millisecond)
	fired := make(chan Lock, 1)
	m.SetOnExpiry(func(l Lock) { fired <- l })

	_, err := m.Acquire("session1", "agent-a")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	m.Sweep()

	select {
	case l := <-fired:
		require.Equal(t, "session1", l.Target)
	case <-time.After(time.Second):
		t.Fatal("expected expiry hook to fire")
	}
}
