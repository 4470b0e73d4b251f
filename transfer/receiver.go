package transfer

import (
	"errors"
	"io"

	"ftransfer/packet"
)

// DefaultBufferSize is the receive buffer and send chunk size.
const DefaultBufferSize = 6969

// The stages of a receive, in order. Done and Failed are final.
const (
	AwaitingHeader State = iota
	ReceivingBody
	Done
	Failed
)

// State is the stage a Receiver has reached.
type State int

func (s State) String() string {
	switch s {
	case AwaitingHeader:
		return "awaiting header"
	case ReceivingBody:
		return "receiving body"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

type (
	// Receiver drives one incoming upload. It never blocks on its own: each
	// call to OnReadable performs at most one read from the source.
	Receiver struct {
		store Store
		buf   []byte
		fill  int

		state       State
		err         error
		header      packet.Header
		sink        io.WriteCloser
		path        string
		transferred uint64

		removePartial bool
		onProgress    func(Progress)
	}

	// ReceiverOption configures a Receiver.
	ReceiverOption func(*Receiver)
)

// WithRemovePartial deletes the destination file of a failed transfer when
// the receiver is closed. By default partial files are kept.
func WithRemovePartial(remove bool) ReceiverOption {
	return func(r *Receiver) {
		r.removePartial = remove
	}
}

// WithProgress registers a callback run after every chunk persisted to the
// sink.
func WithProgress(fn func(Progress)) ReceiverOption {
	return func(r *Receiver) {
		r.onProgress = fn
	}
}

// NewReceiver returns a Receiver awaiting a header, buffering bufSize bytes
// per read (DefaultBufferSize when bufSize <= 0).
func NewReceiver(store Store, bufSize int, opts ...ReceiverOption) *Receiver {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if bufSize < packet.HeaderSize {
		bufSize = packet.HeaderSize
	}
	r := &Receiver{
		store: store,
		buf:   make([]byte, bufSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReadable handles one readiness notification for src. A source returning
// ErrWouldBlock leaves the receiver unchanged. The returned error is the
// reason the transfer failed, or nil while it is still in progress or done.
func (r *Receiver) OnReadable(src io.Reader) error {
	var p []byte
	switch r.state {
	case AwaitingHeader:
		p = r.buf[r.fill:]
	case ReceivingBody:
		p = r.buf
		if remaining := r.header.Size - r.transferred; uint64(len(p)) > remaining {
			p = p[:remaining]
		}
	default:
		return r.err
	}

	n, err := src.Read(p)
	if n > 0 {
		if ferr := r.consume(n); ferr != nil {
			return ferr
		}
	}
	if err == nil || r.state == Done {
		return nil
	}
	switch {
	case errors.Is(err, ErrWouldBlock):
		return nil
	case errors.Is(err, io.EOF):
		return r.fail(ErrTruncated)
	default:
		return r.fail(&TransportError{Op: "read", Err: err})
	}
}

func (r *Receiver) consume(n int) error {
	if r.state == ReceivingBody {
		return r.persist(r.buf[:n])
	}

	r.fill += n
	if r.fill < packet.HeaderSize {
		return nil
	}
	header, err := packet.Decode(r.buf[:packet.HeaderSize])
	if err != nil {
		return r.fail(err)
	}
	sink, path, err := r.store.Create(header.Name)
	if err != nil {
		return r.fail(err)
	}
	r.header = header
	r.sink = sink
	r.path = path
	r.state = ReceivingBody

	// The read that completed the header may already hold the start of the
	// content.
	leftover := r.buf[packet.HeaderSize:r.fill]
	r.fill = 0
	return r.persist(leftover)
}

func (r *Receiver) persist(p []byte) error {
	if remaining := r.header.Size - r.transferred; uint64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) > 0 {
		if err := writeFull(r.sink, p); err != nil {
			return r.fail(NewFilesystemError("write", r.path, err))
		}
		r.transferred += uint64(len(p))
		if r.onProgress != nil {
			r.onProgress(r.Progress())
		}
	}
	if r.transferred < r.header.Size {
		return nil
	}

	sink := r.sink
	r.sink = nil
	if err := sink.Close(); err != nil {
		return r.fail(NewFilesystemError("close", r.path, err))
	}
	r.state = Done
	return nil
}

func (r *Receiver) fail(err error) error {
	r.state = Failed
	r.err = err
	return err
}

// Close releases the sink. An unfinished transfer is marked as stopped.
func (r *Receiver) Close() error {
	if r.state == AwaitingHeader || r.state == ReceivingBody {
		r.fail(ErrStopped)
	}
	var err error
	if r.sink != nil {
		err = r.sink.Close()
		r.sink = nil
	}
	if r.state == Failed && r.removePartial && r.path != "" {
		if rerr := r.store.Remove(r.path); rerr != nil && err == nil {
			err = rerr
		}
		r.path = ""
	}
	return err
}

// State returns the current stage.
func (r *Receiver) State() State {
	return r.state
}

// Err returns the reason the transfer failed, or nil.
func (r *Receiver) Err() error {
	return r.err
}

// Header returns the decoded header, zero until one has been accepted.
func (r *Receiver) Header() packet.Header {
	return r.header
}

// Path is the destination the sink was bound to, empty until the header has
// been accepted.
func (r *Receiver) Path() string {
	return r.path
}

// Progress returns the bytes persisted so far against the declared size.
func (r *Receiver) Progress() Progress {
	return Progress{Transferred: r.transferred, Expected: r.header.Size}
}

// writeFull loops over short writes.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}
