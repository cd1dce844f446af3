//go:build !plan9
// +build !plan9

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

	// RehashSignals reload the config file.
	RehashSignals = []os.Signal{
		syscall.SIGHUP,
	}

	// TracebackSignals dump every goroutine's stack to the log.
	TracebackSignals = []os.Signal{
		syscall.SIGUSR1,
	}
)
