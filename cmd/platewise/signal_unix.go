//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals are the signals that request a graceful shutdown.
// Process managers (systemd, kubernetes) send SIGTERM; interactive runs
// stop with SIGINT.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
