//go:build !windows

package main

import (
	"os/signal"
	"syscall"
)

func init() {
	// Writes to a peer that went away should fail with EPIPE, not kill us.
	signal.Ignore(syscall.SIGPIPE)
}
