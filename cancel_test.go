package corowork

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCancelTokenTriggerPropagatesToChildren(t *testing.T) {
	parent := NewCancelToken(nil)
	child := NewCancelToken(parent)
	grandchild := NewCancelToken(child)

	require.False(t, child.Triggered())
	parent.Trigger()
	require.True(t, child.Triggered())
	require.True(t, grandchild.Triggered())
}

func TestCancelTokenChildOfAlreadyTriggeredParent(t *testing.T) {
	parent := NewCancelToken(nil)
	parent.Trigger()

	child := NewCancelToken(parent)
	require.True(t, child.Triggered())
}

func TestCancelTokenTriggerIsIdempotent(t *testing.T) {
	tok := NewCancelToken(nil)
	tok.Trigger()
	tok.Trigger() // must not panic or double-fire children
	require.True(t, tok.Triggered())
}

func TestAsContextCancelsOnTrigger(t *testing.T) {
	tok := NewCancelToken(nil)
	ctx := tok.AsContext(context.Background())

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before token triggered")
	case <-time.After(20 * time.Millisecond):
	}

	tok.Trigger()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context never cancelled after token triggered")
	}
}

func TestPollSuspensionPrefersCancellationOverDeadline(t *testing.T) {
	tok := NewCancelToken(nil)
	tok.Trigger()
	dl := deadlineFromTimeout(1) // already-expirable deadline
	time.Sleep(2 * time.Millisecond)

	cancelled, timedOut := pollSuspension(tok, dl)
	require.True(t, cancelled)
	require.False(t, timedOut)
}
