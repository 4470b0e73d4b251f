package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ftransfer/packet"
)

type (
	// Sender writes one header followed by the file content to dst.
	Sender struct {
		dst          io.Writer
		chunkSize    int
		onProgress   func(Progress)
		waitWritable func(context.Context) error
		progress     Progress
	}

	// SenderOption configures a Sender.
	SenderOption func(*Sender)
)

// WithChunkSize sets how many bytes are read from the source per write.
func WithChunkSize(n int) SenderOption {
	return func(s *Sender) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithSendProgress registers a callback run after every chunk is fully sent.
func WithSendProgress(fn func(Progress)) SenderOption {
	return func(s *Sender) {
		s.onProgress = fn
	}
}

// WithWaitWritable lets the sender drive a non-blocking destination: when a
// write returns ErrWouldBlock, fn is called to wait until the destination can
// accept more bytes, and the undelivered remainder is written again.
func WithWaitWritable(fn func(context.Context) error) SenderOption {
	return func(s *Sender) {
		s.waitWritable = fn
	}
}

// NewSender returns a Sender writing to dst in DefaultBufferSize chunks.
func NewSender(dst io.Writer, opts ...SenderOption) *Sender {
	s := &Sender{
		dst:       dst,
		chunkSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send transfers exactly size bytes of src under name. The context is checked
// before every chunk; a canceled context ends the transfer with ErrStopped.
func (s *Sender) Send(ctx context.Context, name string, size uint64, src io.Reader) error {
	header, err := packet.Encode(name, size)
	if err != nil {
		return err
	}
	s.progress = Progress{Expected: size}
	if err := s.write(ctx, header[:]); err != nil {
		return err
	}

	buf := make([]byte, s.chunkSize)
	for s.progress.Transferred < size {
		if ctx.Err() != nil {
			return fmt.Errorf("%w after %v", ErrStopped, s.progress)
		}
		chunk := buf
		if remaining := size - s.progress.Transferred; uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := io.ReadFull(src, chunk)
		if n > 0 {
			if werr := s.write(ctx, chunk[:n]); werr != nil {
				return werr
			}
			s.progress.Transferred += uint64(n)
			if s.onProgress != nil {
				s.onProgress(s.progress)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: source ended after %v", ErrTruncated, s.progress)
		}
		if err != nil {
			return NewFilesystemError("read", name, err)
		}
	}
	return nil
}

// Progress returns the content bytes delivered so far.
func (s *Sender) Progress() Progress {
	return s.progress
}

func (s *Sender) write(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n, err := s.dst.Write(p)
		p = p[n:]
		switch {
		case err == nil && n == 0:
			return &TransportError{Op: "send", Err: io.ErrShortWrite}
		case err == nil:
		case errors.Is(err, ErrWouldBlock) && s.waitWritable != nil:
			if werr := s.waitWritable(ctx); werr != nil {
				return &TransportError{Op: "wait writable", Err: werr}
			}
		default:
			return &TransportError{Op: "send", Err: err}
		}
	}
	return nil
}
