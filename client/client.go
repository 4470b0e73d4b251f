package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"ftransfer/transfer"
)

type clientError string

func (c clientError) Error() string {
	return string(c)
}

// ErrIsDirectory is returned when asked to upload a directory.
const ErrIsDirectory = clientError("is a directory")

// Client uploads local files to one server, one connection per file.
type Client struct {
	addr   string
	dialer net.Dialer
	opts   []transfer.SenderOption
}

// New returns a Client for the server at addr:port. opts apply to every
// upload.
func New(addr, port string, opts ...transfer.SenderOption) *Client {
	return &Client{
		addr:   net.JoinHostPort(addr, port),
		dialer: net.Dialer{Timeout: 10 * time.Second},
		opts:   opts,
	}
}

// Upload sends one file and waits for the server to close the connection,
// which it does once every byte has been stored or the upload was rejected.
func (c *Client) Upload(ctx context.Context, path string) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &transfer.TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()
	log.Printf("connected to %s", c.addr)

	// Unblock any pending read or write as soon as ctx is canceled.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := SendFile(ctx, conn, path, c.opts...); err != nil {
		return stopped(ctx, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return &transfer.TransportError{Op: "shutdown", Err: err}
		}
	}
	if _, err := io.Copy(io.Discard, conn); err != nil {
		return stopped(ctx, &transfer.TransportError{Op: "recv", Err: err})
	}
	return nil
}

// UploadAll uploads every path with at most parallel transfers in flight.
// The first failure cancels the uploads that have not finished.
func (c *Client) UploadAll(ctx context.Context, paths []string, parallel int) error {
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for _, path := range paths {
		path := path
		g.Go(func() error {
			if err := c.Upload(ctx, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			log.Printf("sent %s", path)
			return nil
		})
	}
	return g.Wait()
}

// SendFile writes the header and content of the file at path to w.
func SendFile(ctx context.Context, w io.Writer, path string, opts ...transfer.SenderOption) error {
	info, err := os.Stat(path)
	if err != nil {
		return transfer.NewFilesystemError("stat", path, err)
	}
	if info.IsDir() {
		return transfer.NewFilesystemError("stat", path, ErrIsDirectory)
	}

	file, err := os.Open(path)
	if err != nil {
		return transfer.NewFilesystemError("open", path, err)
	}
	defer file.Close()

	return transfer.NewSender(w, opts...).Send(ctx, info.Name(), uint64(info.Size()), file)
}

func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, transfer.ErrStopped) {
		return fmt.Errorf("%w: %v", transfer.ErrStopped, err)
	}
	return err
}
