package server

import (
	"golang.org/x/sys/unix"

	"ftransfer/transfer"
)

const initialTableSize = 5

type (
	// conn is one accepted socket and the upload it carries.
	conn struct {
		fd   int
		peer string
		recv *transfer.Receiver
	}

	// table keeps the poll set and the connections index-aligned. Slot 0 is
	// the listener and has no conn.
	table struct {
		pfds  []unix.PollFd
		conns []*conn
	}
)

func newTable(listener int) *table {
	t := &table{
		pfds:  make([]unix.PollFd, 0, initialTableSize),
		conns: make([]*conn, 0, initialTableSize),
	}
	t.pfds = append(t.pfds, unix.PollFd{Fd: int32(listener), Events: unix.POLLIN})
	t.conns = append(t.conns, nil)
	return t
}

// Len is the number of active connections, excluding the listener.
func (t *table) Len() int {
	return len(t.conns) - 1
}

func (t *table) add(c *conn) {
	t.pfds = append(t.pfds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
	t.conns = append(t.conns, c)
}

// remove swaps the last entry into slot i.
func (t *table) remove(i int) *conn {
	c := t.conns[i]
	last := len(t.conns) - 1
	t.pfds[i] = t.pfds[last]
	t.conns[i] = t.conns[last]
	t.conns[last] = nil
	t.pfds = t.pfds[:last]
	t.conns = t.conns[:last]
	return c
}
