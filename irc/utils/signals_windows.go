//go:build windows

// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

package utils

import (
	"os"
	"syscall"
)

var (
	// ExitSignals make services save the datastore and exit.
	ExitSignals = []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	}

	// windows never delivers SIGHUP or SIGUSR1 to a process
	RehashSignals    []os.Signal
	TracebackSignals []os.Signal
)
