package transfer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/acomagu/bufpipe"
	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"ftransfer/packet"
)

// stutterWriter accepts at most step bytes per call and reports would-block
// after every accepted piece.
type stutterWriter struct {
	bytes.Buffer
	step int
}

func (s *stutterWriter) Write(p []byte) (int, error) {
	n := min(len(p), s.step)
	s.Buffer.Write(p[:n])
	if n < len(p) {
		return n, ErrWouldBlock
	}
	return n, nil
}

func TestSendReceiveThroughPipe(t *testing.T) {
	for _, tt := range []struct {
		size  int
		chunk int
	}{
		{0, 0},
		{1, 0},
		{17, 4},
		{DefaultBufferSize, 0},
		{DefaultBufferSize + 1, 0},
		{100000, 512},
		{100000, 8192},
	} {
		content := pattern(tt.size)
		pr, pw := bufpipe.New(nil)

		var g errgroup.Group
		g.Go(func() error {
			defer pw.Close()
			return NewSender(pw, WithChunkSize(tt.chunk)).
				Send(context.Background(), "piped.bin", uint64(len(content)), bytes.NewReader(content))
		})

		store := newMemStore()
		r := NewReceiver(store, 0)
		for r.State() != Done && r.State() != Failed {
			_ = r.OnReadable(pr)
		}
		assert.NilError(t, g.Wait())
		assert.NilError(t, r.Err())
		assert.Equal(t, Done, r.State())
		assert.Equal(t, string(content), store.files["piped.bin"].String())
	}
}

func TestSendWaitsOnWouldBlock(t *testing.T) {
	content := pattern(5000)
	dst := &stutterWriter{step: 100}
	waits := 0
	s := NewSender(dst, WithChunkSize(1024), WithWaitWritable(func(context.Context) error {
		waits++
		return nil
	}))

	assert.NilError(t, s.Send(context.Background(), "slow.bin", uint64(len(content)), bytes.NewReader(content)))
	assert.Assert(t, waits > 0)
	assert.DeepEqual(t, stream(t, "slow.bin", content), dst.Bytes())
	assert.Equal(t, Progress{Transferred: 5000, Expected: 5000}, s.Progress())
}

func TestSendWouldBlockWithoutWaiter(t *testing.T) {
	s := NewSender(&stutterWriter{step: 10})
	err := s.Send(context.Background(), "a", 1, strings.NewReader("a"))

	var transportErr *TransportError
	assert.Assert(t, errors.As(err, &transportErr))
	assert.Check(t, is.ErrorIs(err, ErrWouldBlock))
}

func TestSendWaitError(t *testing.T) {
	gone := errors.New("peer gone")
	s := NewSender(&stutterWriter{step: 10}, WithWaitWritable(func(context.Context) error {
		return gone
	}))
	err := s.Send(context.Background(), "a", 1, strings.NewReader("a"))
	assert.Check(t, is.ErrorIs(err, gone))
}

func TestSendStopsBetweenChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dst bytes.Buffer
	s := NewSender(&dst, WithChunkSize(10), WithSendProgress(func(Progress) {
		cancel()
	}))
	err := s.Send(ctx, "big.bin", 100, bytes.NewReader(pattern(100)))
	assert.Check(t, is.ErrorIs(err, ErrStopped))
	assert.Equal(t, packet.HeaderSize+10, dst.Len())
	assert.Equal(t, uint64(10), s.Progress().Transferred)
}

func TestSendTruncatedSource(t *testing.T) {
	var dst bytes.Buffer
	s := NewSender(&dst)
	err := s.Send(context.Background(), "short.bin", 100, bytes.NewReader(pattern(60)))
	assert.Check(t, is.ErrorIs(err, ErrTruncated))
	assert.Equal(t, uint64(60), s.Progress().Transferred)
}

func TestSendStopsAtDeclaredSize(t *testing.T) {
	var dst bytes.Buffer
	s := NewSender(&dst)
	assert.NilError(t, s.Send(context.Background(), "grown.bin", 3, strings.NewReader("abcdef")))
	assert.DeepEqual(t, stream(t, "grown.bin", []byte("abc")), dst.Bytes())
}

func TestSendRejectsInvalidName(t *testing.T) {
	var dst bytes.Buffer
	err := NewSender(&dst).Send(context.Background(), "..", 0, strings.NewReader(""))
	assert.Check(t, is.ErrorIs(err, packet.ErrInvalidHeader))
	assert.Equal(t, 0, dst.Len())
}
