package provenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/butler/internal/dataid"
)

func TestLog_AppendAndRecords(t *testing.T) {
	l := NewLog()
	defer l.Close()

	id := dataid.DataID{"visit": "1"}
	rec := l.Append(OperationGet, "raw", id, []string{"/repo/1.dat"})
	id["visit"] = "2"

	records := l.Records()
	require.Len(t, records, 1)
	require.Equal(t, OperationGet, records[0].Operation)
	require.Equal(t, dataid.DataID{"visit": "1"}, records[0].DataID)
	require.False(t, rec.Timestamp.IsZero())
	require.Equal(t, "get raw {visit=1} [/repo/1.dat]", rec.String())
	require.Equal(t, 1, l.Len())
}

func TestLog_SubscribersReceiveRecords(t *testing.T) {
	l := NewLog()
	defer l.Close()

	ch1 := l.Subscribe(context.Background())
	ch2 := l.Subscribe(context.Background())
	require.Equal(t, 2, l.SubscriberCount())

	l.Append(OperationPut, "calexp", dataid.DataID{"visit": "3"}, nil)

	for i, ch := range []<-chan Record{ch1, ch2} {
		select {
		case rec := <-ch:
			require.Equal(t, OperationPut, rec.Operation, "subscriber %d", i)
			require.Equal(t, "calexp", rec.DatasetType, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			require.Fail(t, "timeout waiting for record", "subscriber %d", i)
		}
	}
}

func TestLog_ContextCancellationUnsubscribes(t *testing.T) {
	l := NewLog()
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := l.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool { return l.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	require.False(t, ok)
}

func TestLog_AppendNeverBlocks(t *testing.T) {
	l := NewLogWithBuffer(1)
	defer l.Close()
	ch := l.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			l.Append(OperationGet, "raw", dataid.DataID{}, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "Append blocked")
	}
	<-ch
	require.Equal(t, 3, l.Len())
}

func TestLog_Close(t *testing.T) {
	l := NewLog()
	ch := l.Subscribe(context.Background())

	l.Close()
	l.Close()
	_, ok := <-ch
	require.False(t, ok)
	require.Equal(t, 0, l.SubscriberCount())

	late := l.Subscribe(context.Background())
	_, ok = <-late
	require.False(t, ok)

	l.Append(OperationGet, "raw", dataid.DataID{}, nil)
	require.Equal(t, 1, l.Len())
}
