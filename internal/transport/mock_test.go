package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockBackendSubscribeCheckpointsStreamsInSequenceOrder(t *testing.T) {
	m := NewMockBackend()
	m.PutCheckpoint(&Checkpoint{Sequence: 3})
	m.PutCheckpoint(&Checkpoint{Sequence: 1})
	m.PutCheckpoint(&Checkpoint{Sequence: 2})

	ctx, cancel := context.WithCancel(context.Background())
	out, errc := m.SubscribeCheckpoints(ctx, 0)

	var got []uint64
	for cp := range out {
		got = append(got, cp.Sequence)
		if len(got) == 3 {
			cancel()
		}
	}
	require.ErrorIs(t, <-errc, context.Canceled)
	require.Equal(t, []uint64{1, 2, 3}, got)
}

func TestMockBackendSubscribeCheckpointsRespectsFromSeq(t *testing.T) {
	m := NewMockBackend()
	m.PutCheckpoint(&Checkpoint{Sequence: 1})
	m.PutCheckpoint(&Checkpoint{Sequence: 2})
	m.PutCheckpoint(&Checkpoint{Sequence: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, _ := m.SubscribeCheckpoints(ctx, 2)

	var got []uint64
	for cp := range out {
		got = append(got, cp.Sequence)
		if len(got) == 2 {
			cancel()
		}
	}
	require.Equal(t, []uint64{2, 3}, got)
}

func TestMockBackendSubscribeCheckpointsForcedErr(t *testing.T) {
	m := NewMockBackend()
	m.PutCheckpoint(&Checkpoint{Sequence: 1})
	m.ForcedErr = &Error{Kind: ErrNetworkTimeout, SourceID: "mock"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, errc := m.SubscribeCheckpoints(ctx, 0)

	_, ok := <-out
	require.False(t, ok)
	require.Equal(t, m.ForcedErr, <-errc)
}
