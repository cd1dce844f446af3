// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "errors"

// Runtime Errors
var (
	errAccountDoesNotExist = errors.New("Account does not exist")
	errChannelNotFound     = errors.New("Channel is not registered")
	errGroupNotFound       = errors.New("Group does not exist")
	errNoSuchSetter        = errors.New("Setter account does not exist")
	errServicesStopped     = errors.New("Services are shutting down")
	errInvalidFlags        = errors.New("No valid flags were given")
)

// Config Errors
var (
	ErrConfigEmpty           = errors.New("Config file is empty")
	ErrDatastorePathMissing  = errors.New("Datastore path missing")
	ErrInvalidFlags          = errors.New("Invalid flag letters")
	ErrLoggerFilenameMissing = errors.New("Logging configuration specifies 'file' method but 'filename' is empty")
	ErrMetricsListenMissing  = errors.New("Metrics are enabled but no listen address is configured")
	ErrNetworkNameMissing    = errors.New("Network name missing")
	ErrServerNameMissing     = errors.New("Server name missing")
	ErrThrottleOutOfRange    = errors.New("Login throttling setting out of range")
	ErrDatastorePathChanged  = errors.New("Datastore path cannot be changed after launch")
)
