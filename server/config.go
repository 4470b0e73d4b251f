package server

import (
	"os"
	"time"

	"ftransfer/transfer"
)

// Config holds everything the multiplexer needs to run. Use DefaultConfig and
// override fields as needed.
type Config struct {
	Addr string
	Port string

	// DestDir is where uploads are stored, by basename.
	DestDir string

	// MaxConns caps simultaneous transfers. Connections accepted beyond it
	// are closed immediately.
	MaxConns int

	BufferSize int
	Backlog    int

	// PollTimeout bounds how long one poll call may wait, and therefore how
	// quickly a canceled context is noticed.
	PollTimeout time.Duration

	// RemovePartial deletes the destination file of a failed upload.
	RemovePartial bool

	// OnProgress, if set, is called from the polling goroutine after every
	// chunk written for the peer.
	OnProgress func(peer string, p transfer.Progress)

	// OnClose, if set, is called once the peer's connection has been
	// released, with nil for a stored upload or the reason it failed.
	OnClose func(peer string, err error)
}

// DefaultConfig listens on every interface on port 1337. The destination
// directory can be overridden with FTRANSFER_DIR.
func DefaultConfig() Config {
	dir := "uploaded_files"
	if env, ok := os.LookupEnv("FTRANSFER_DIR"); ok && env != "" {
		dir = env
	}
	return Config{
		Port:        "1337",
		DestDir:     dir,
		MaxConns:    100,
		BufferSize:  transfer.DefaultBufferSize,
		Backlog:     10,
		PollTimeout: 250 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.DestDir == "" {
		c.DestDir = def.DestDir
	}
	if c.MaxConns <= 0 {
		c.MaxConns = def.MaxConns
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.Backlog <= 0 {
		c.Backlog = def.Backlog
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	return c
}
