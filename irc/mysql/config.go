// Copyright (c) 2020 Shivaram Lingamneni
// released under the MIT license

package mysql

import (
	"time"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxConns = 4
)

type Config struct {
	// these are intended to be written directly into the config file:
	Enabled    bool
	Host       string
	Port       int
	SocketPath string `yaml:"socket-path"`
	User       string
	Password   string
	Database   string
	Timeout    time.Duration
	MaxConns   int `yaml:"max-conns"`
}

func (config *Config) postprocess() {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxConns == 0 {
		config.MaxConns = DefaultMaxConns
	}
}
