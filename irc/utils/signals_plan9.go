//go:build plan9
// +build plan9

// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

package utils

import (
	"os"
	"syscall"
)

var (
	// ExitSignals make services save the datastore and exit.
	// (no SIGQUIT on plan9)
	ExitSignals = []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
	}

	// plan9 has neither SIGHUP nor SIGUSR1; rehash from the command layer instead
	RehashSignals    []os.Signal
	TracebackSignals []os.Signal
)
