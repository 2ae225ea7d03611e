//go:build windows

package main

import (
	"os"
)

// terminationSignals are the signals that request a graceful shutdown.
// On Windows only Ctrl+C (os.Interrupt) is delivered.
var terminationSignals = []os.Signal{os.Interrupt}
