package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"ftransfer/transfer"
)

// Server accepts uploads and drives all of them from the goroutine that
// calls Serve, with one poll(2) call per iteration. None of its methods are
// safe for concurrent use.
type Server struct {
	cfg      Config
	listener int
	table    *table
	store    transfer.Store
	closed   bool

	// resumeAt is when a listener paused after running out of descriptors
	// is polled again.
	resumeAt time.Time
}

// New binds and listens on cfg.Addr:cfg.Port.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()

	fd, err := listen(cfg.Addr, cfg.Port, cfg.Backlog)
	if err != nil {
		return nil, err
	}

	server := &Server{
		cfg:      cfg,
		listener: fd,
		table:    newTable(fd),
		store:    transfer.DirStore(cfg.DestDir),
	}
	log.Printf("listening on tcp %v, storing uploads in %s", server.Addr(), cfg.DestDir)
	return server, nil
}

// Addr returns the address the listener is bound to.
func (s *Server) Addr() net.Addr {
	sa, err := unix.Getsockname(s.listener)
	if err != nil {
		return nil
	}
	return sockaddrToTCP(sa)
}

// Len returns the number of connections currently in the table.
func (s *Server) Len() int {
	return s.table.Len()
}

// Serve runs the poll loop until ctx is canceled, then closes the listener
// and every remaining connection. A canceled context is not an error.
func (s *Server) Serve(ctx context.Context) error {
	defer s.Close()
	for ctx.Err() == nil {
		if err := s.poll(); err != nil {
			return err
		}
	}
	return nil
}

// poll waits for readiness once and handles every ready descriptor.
func (s *Server) poll() error {
	if listener := &s.table.pfds[0]; listener.Events == 0 && !time.Now().Before(s.resumeAt) {
		listener.Events = unix.POLLIN
	}
	n, err := unix.Poll(s.table.pfds, int(s.cfg.PollTimeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return nil
	}
	if err != nil {
		return &transfer.TransportError{Op: "poll", Err: err}
	}
	if n == 0 {
		return nil
	}

	// Walk backwards so a swap-with-last removal only moves an entry that
	// has already been handled. Connections accepted below land past the
	// end and are polled on the next iteration.
	for i := len(s.table.pfds) - 1; i >= 0; i-- {
		revents := s.table.pfds[i].Revents
		if revents == 0 {
			continue
		}
		if i == 0 {
			s.accept()
			continue
		}
		s.handle(i, revents)
	}
	return nil
}

func (s *Server) accept() {
	fd, peer, err := accept(s.listener)
	if err != nil {
		s.acceptFailed(err)
		return
	}
	if s.table.Len() >= s.cfg.MaxConns {
		log.Printf("rejected %s: %d connections active", peer, s.table.Len())
		abort(fd)
		return
	}

	opts := []transfer.ReceiverOption{transfer.WithRemovePartial(s.cfg.RemovePartial)}
	if s.cfg.OnProgress != nil {
		opts = append(opts, transfer.WithProgress(func(p transfer.Progress) {
			s.cfg.OnProgress(peer, p)
		}))
	}
	s.table.add(&conn{
		fd:   fd,
		peer: peer,
		recv: transfer.NewReceiver(s.store, s.cfg.BufferSize, opts...),
	})
	log.Printf("accepted new connection from %s on socket %d", peer, fd)
}

func (s *Server) acceptFailed(err error) {
	switch {
	case wouldBlock(err), errors.Is(err, unix.ECONNABORTED):
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		// The connection stays queued and the listener stays readable, so
		// stop polling it until a descriptor is released or the timeout passes.
		log.Printf("accept: %v, pausing for %v", err, s.cfg.PollTimeout)
		s.table.pfds[0].Events = 0
		s.resumeAt = time.Now().Add(s.cfg.PollTimeout)
	default:
		log.Println("accept:", err)
	}
}

func (s *Server) handle(i int, revents int16) {
	c := s.table.conns[i]
	if revents&unix.POLLNVAL != 0 {
		log.Printf("%s: socket %d is not open", c.peer, c.fd)
		s.drop(i)
		return
	}

	// POLLHUP and POLLERR are read as well: the read reports EOF or the
	// socket error.
	err := c.recv.OnReadable(fdReader(c.fd))
	switch c.recv.State() {
	case transfer.Done:
		log.Printf("%s: stored %s (%d bytes)", c.peer, c.recv.Path(), c.recv.Progress().Transferred)
		s.drop(i)
	case transfer.Failed:
		log.Printf("%s: %s", c.peer, describeFailure(c.recv, err))
		s.drop(i)
	}
}

// describeFailure reports progress only once a header has bound the transfer
// to a file.
func describeFailure(recv *transfer.Receiver, err error) string {
	if recv.Path() == "" {
		return fmt.Sprintf("transfer failed: %v", err)
	}
	return fmt.Sprintf("transfer of %s failed after %v: %v", recv.Path(), recv.Progress(), err)
}

// drop removes connection i from the table and releases its socket and sink.
// A connection whose upload did not complete is reset rather than closed.
func (s *Server) drop(i int) {
	c := s.table.remove(i)
	s.table.pfds[0].Events = unix.POLLIN
	if err := c.recv.Close(); err != nil {
		log.Printf("%s: %v", c.peer, err)
	}
	closeFd := unix.Close
	if c.recv.State() == transfer.Failed {
		closeFd = abort
	}
	if err := closeFd(c.fd); err != nil {
		log.Printf("%s: close: %v", c.peer, err)
	}
	if s.cfg.OnClose != nil {
		s.cfg.OnClose(c.peer, c.recv.Err())
	}
}

// Close shuts down the listener and every open connection.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	log.Println("shutting down")
	for s.table.Len() > 0 {
		s.drop(s.table.Len())
	}
	return unix.Close(s.listener)
}
