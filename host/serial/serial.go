// Package serial opens the bridge's debug console port.
package serial

import "io"

// Port is an open console connection. Tests substitute pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush drops anything queued in either direction.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	// Device path, e.g. "/dev/ttyUSB0".
	Device string

	Baud int

	// ReadTimeout in milliseconds; 0 blocks.
	ReadTimeout int
}

// DefaultBaud is the rate the bridge console runs at.
const DefaultBaud = 230400

// DefaultConfig returns the console settings for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
