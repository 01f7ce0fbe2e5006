package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PullInOrder(t *testing.T) {
	q := NewQueue(4)

	for i := 0; i < 3; i++ {
		q.Push([]byte{byte(i)})
	}

	for i := 0; i < 3; i++ {
		f, err := q.Pull(context.Background(), time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, []byte{byte(i)}, f.Data)
	}
}

func TestQueue_DropOldestWhenFull(t *testing.T) {
	q := NewQueue(3)

	var evicted []uint64
	q.OnDrop(func(f Frame) { evicted = append(evicted, f.Seq) })

	for i := 0; i < 5; i++ {
		_, dropped := q.Push([]byte{byte(i)})
		assert.Equal(t, i >= 3, dropped, "push %d", i)
	}

	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, []uint64{1, 2}, evicted)
	assert.Equal(t, 3, q.Len())

	var seqs []uint64
	for q.Len() > 0 {
		f, err := q.Pull(context.Background(), time.Millisecond)
		require.NoError(t, err)
		seqs = append(seqs, f.Seq)
	}
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}

func TestQueue_PullTimesOut(t *testing.T) {
	q := NewQueue(2)

	start := time.Now()
	_, err := q.Pull(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestQueue_PullWakesOnPush(t *testing.T) {
	q := NewQueue(2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push([]byte{42})
	}()

	f, err := q.Pull(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, f.Data)
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q := NewQueue(2)
	q.Push([]byte{1})
	q.Close()

	seq, _ := q.Push([]byte{2})
	assert.Zero(t, seq, "push after close is ignored")

	f, err := q.Pull(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	_, err = q.Pull(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_PullHonoursContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Pull(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_PushWaitBlocksUntilSpace(t *testing.T) {
	q := NewQueue(1)
	_, err := q.PushWait(context.Background(), []byte{1})
	require.NoError(t, err)

	done := make(chan uint64, 1)
	go func() {
		seq, err := q.PushWait(context.Background(), []byte{2})
		assert.NoError(t, err)
		done <- seq
	}()

	select {
	case <-done:
		t.Fatal("push into a full queue returned without waiting")
	case <-time.After(20 * time.Millisecond):
	}

	f, err := q.Pull(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	select {
	case seq := <-done:
		assert.Equal(t, uint64(2), seq)
	case <-time.After(time.Second):
		t.Fatal("push did not resume after pull")
	}
	assert.Zero(t, q.Dropped())
}

func TestQueue_PushWaitStopsOnCancelAndClose(t *testing.T) {
	q := NewQueue(1)
	q.Push([]byte{1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.PushWait(ctx, []byte{2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Close()
	}()
	_, err = q.PushWait(context.Background(), []byte{3})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFormat(t *testing.T) {
	f := Format{SampleRate: 16000, FrameDurationMs: 30}

	assert.Equal(t, 480, f.FrameSamples())
	assert.Equal(t, 960, f.FrameBytes())
	assert.Equal(t, 50, f.FramesFor(1500*time.Millisecond))
	assert.Equal(t, 1, f.FramesFor(time.Millisecond))
}

func TestFrames_PadsLastFrame(t *testing.T) {
	f := Format{SampleRate: 1000, FrameDurationMs: 2} // 2 samples per frame

	frames := Frames([]int16{1, 2, 3}, f)
	require.Len(t, frames, 2)
	assert.Equal(t, []int16{1, 2}, BytesToInt16(frames[0]))
	assert.Equal(t, []int16{3, 0}, BytesToInt16(frames[1]))
}
