// Package btminer implements the WhatsMiner stock firmware backends. Two
// protocol generations exist: builds before November 2024 speak the
// cgminer-style socket API on port 4028, newer builds the length-prefixed
// API on port 4433. Both generations expose the same canonical fields.
package btminer

import (
	"time"

	"go.uber.org/zap"

	"github.com/minefleet/asicscan/pkg/transport"
)

type options struct {
	timeout    time.Duration
	transports transport.Set
	logger     *zap.Logger
}

// Option configures a btminer backend.
type Option func(*options)

// WithTimeout bounds each socket round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithTransports replaces the default socket transport. Used by tests to
// substitute fixtures.
func WithTransports(set transport.Set) Option {
	return func(o *options) {
		o.transports = set
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(opts []Option) options {
	o := options{
		timeout: transport.DefaultRPCTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func ptr[T any](v T) *T {
	return &v
}
