package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkaledge/orchestrator/internal/agentruntime"
)

func TestWatchRelaysMessages(t *testing.T) {
	in := make(chan agentruntime.Message, 2)
	in <- agentruntime.Message{Kind: agentruntime.KindText, Content: "hi"}
	close(in)

	out, errc := Watch(context.Background(), in, 50*time.Millisecond, time.Second)

	msg, ok := <-out
	require.True(t, ok)
	require.Equal(t, "hi", msg.Content)

	_, ok = <-out
	require.False(t, ok, "channel closes when input closes")

	require.NoError(t, <-errc, "errc closes without an error when the input closes")
}

func TestWatchIdleTimeout(t *testing.T) {
	in := make(chan agentruntime.Message)
	defer close(in)

	_, errc := Watch(context.Background(), in, 20*time.Millisecond, time.Second)

	select {
	case err := <-errc:
		var to *Timeout
		require.ErrorAs(t, err, &to)
		require.Equal(t, KindIdle, to.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected idle timeout")
	}
}

func TestWatchTotalTimeout(t *testing.T) {
	in := make(chan agentruntime.Message)
	defer close(in)

	_, errc := Watch(context.Background(), in, time.Second, 20*time.Millisecond)

	select {
	case err := <-errc:
		var to *Timeout
		require.ErrorAs(t, err, &to)
		require.Equal(t, KindTotal, to.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected total timeout")
	}
}
