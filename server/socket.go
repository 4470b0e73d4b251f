package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"ftransfer/transfer"
)

// listen opens a non-blocking TCP listening socket.
func listen(addr, port string, backlog int) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(addr, port))
	if err != nil {
		return -1, &transfer.TransportError{Op: "resolve", Err: err}
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := tcpAddr.IP.To4(); ip4 != nil || tcpAddr.IP == nil {
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa6.Addr[:], tcpAddr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, &transfer.TransportError{Op: "socket", Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, &transfer.TransportError{Op: "setsockopt", Err: err}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, &transfer.TransportError{Op: "bind", Err: err}
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, &transfer.TransportError{Op: "listen", Err: err}
	}
	return fd, nil
}

// accept returns a non-blocking socket for one pending connection.
func accept(fd int) (int, string, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	return nfd, sockaddrString(sa), nil
}

// abort closes fd with a reset instead of an orderly shutdown, so the peer
// cannot read the close as a completed upload.
func abort(fd int) error {
	unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	return unix.Close(fd)
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	}
	return nil
}

func sockaddrString(sa unix.Sockaddr) string {
	addr := sockaddrToTCP(sa)
	if addr == nil {
		return fmt.Sprintf("%v", sa)
	}
	return net.JoinHostPort(addr.IP.String(), strconv.Itoa(addr.Port))
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// fdReader adapts a non-blocking socket to io.Reader: no data yet is
// transfer.ErrWouldBlock and an orderly shutdown is io.EOF.
type fdReader int

func (fd fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(int(fd), p)
	switch {
	case err != nil && wouldBlock(err):
		return 0, transfer.ErrWouldBlock
	case err != nil:
		return 0, err
	case n == 0 && len(p) > 0:
		return 0, io.EOF
	}
	return n, nil
}
