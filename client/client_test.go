package client

import (
	"bytes"
	"context"
	"errors"
	iofs "io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/nettest"
	"golang.org/x/sync/errgroup"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"

	"ftransfer/transfer"
)

// receive accepts n connections on ln and stores each upload in dir with a
// blocking receiver.
func receive(t *testing.T, ln net.Listener, dir string, n int) *errgroup.Group {
	t.Helper()
	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < n; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			g.Go(func() error {
				defer conn.Close()
				r := transfer.NewReceiver(transfer.DirStore(dir), 0)
				defer r.Close()
				for r.State() != transfer.Done && r.State() != transfer.Failed {
					r.OnReadable(conn)
				}
				return r.Err()
			})
		}
		return nil
	})
	return &g
}

func newListener(t *testing.T) (net.Listener, string, string) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	assert.NilError(t, err)
	t.Cleanup(func() { ln.Close() })
	host, port, err := net.SplitHostPort(ln.Addr().String())
	assert.NilError(t, err)
	return ln, host, port
}

func TestUpload(t *testing.T) {
	src := fs.NewDir(t, "src", fs.WithFile("report.txt", "hello world 12345"))
	dst := fs.NewDir(t, "dst")
	ln, host, port := newListener(t)
	g := receive(t, ln, dst.Path(), 1)

	var last transfer.Progress
	c := New(host, port, transfer.WithSendProgress(func(p transfer.Progress) {
		last = p
	}))
	assert.NilError(t, c.Upload(context.Background(), src.Join("report.txt")))
	assert.NilError(t, g.Wait())

	assert.Equal(t, transfer.Progress{Transferred: 17, Expected: 17}, last)
	assert.Assert(t, fs.Equal(dst.Path(), fs.Expected(t,
		fs.MatchAnyFileMode,
		fs.WithFile("report.txt", "hello world 12345", fs.MatchAnyFileMode),
	)))
}

func TestUploadAll(t *testing.T) {
	src := fs.NewDir(t, "src",
		fs.WithFile("a.txt", "alpha"),
		fs.WithFile("b.txt", strings.Repeat("b", 50000)),
		fs.WithFile("empty", ""),
	)
	dst := fs.NewDir(t, "dst")
	ln, host, port := newListener(t)
	g := receive(t, ln, dst.Path(), 3)

	paths := []string{src.Join("a.txt"), src.Join("b.txt"), src.Join("empty")}
	assert.NilError(t, New(host, port).UploadAll(context.Background(), paths, 2))
	assert.NilError(t, g.Wait())

	assert.Assert(t, fs.Equal(dst.Path(), fs.Expected(t,
		fs.MatchAnyFileMode,
		fs.WithFile("a.txt", "alpha", fs.MatchAnyFileMode),
		fs.WithFile("b.txt", strings.Repeat("b", 50000), fs.MatchAnyFileMode),
		fs.WithFile("empty", "", fs.MatchAnyFileMode),
	)))
}

func TestSendFileErrors(t *testing.T) {
	dir := fs.NewDir(t, "src", fs.WithDir("sub"))
	var out bytes.Buffer

	err := SendFile(context.Background(), &out, dir.Join("missing.txt"))
	var fsErr *transfer.FilesystemError
	assert.Assert(t, errors.As(err, &fsErr))
	assert.Check(t, is.ErrorIs(err, iofs.ErrNotExist))

	err = SendFile(context.Background(), &out, dir.Join("sub"))
	assert.Check(t, is.ErrorIs(err, ErrIsDirectory))
	assert.Equal(t, 0, out.Len())
}

func TestUploadConnectionRefused(t *testing.T) {
	ln, host, port := newListener(t)
	ln.Close()

	src := fs.NewDir(t, "src", fs.WithFile("x", "y"))
	err := New(host, port).Upload(context.Background(), src.Join("x"))
	var transportErr *transfer.TransportError
	assert.Assert(t, errors.As(err, &transportErr))
	assert.Equal(t, "connect", transportErr.Op)
}

func TestUploadStopsOnCancel(t *testing.T) {
	big := filepath.Join(t.TempDir(), "big.bin")
	assert.NilError(t, os.WriteFile(big, bytes.Repeat([]byte{7}, 32<<20), 0o644))

	// The peer accepts but never reads, so the upload stalls once the socket
	// buffers are full.
	ln, host, port := newListener(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := New(host, port).Upload(ctx, big)
	assert.Check(t, is.ErrorIs(err, transfer.ErrStopped))
	assert.Assert(t, time.Since(start) < 5*time.Second)

	select {
	case conn := <-accepted:
		conn.Close()
	default:
	}
}
