// Package core defines sentinel errors.
package core

import "errors"

var (
	// Pipeline errors
	ErrPipelineStopped = errors.New("meter: pipeline stopped")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("meter: packet too short")
	ErrUnsupportedProto = errors.New("meter: unsupported protocol")

	// Configuration errors
	ErrConfigInvalid = errors.New("meter: invalid configuration")

	// Lifecycle errors
	ErrClosed = errors.New("meter: closed")
)
