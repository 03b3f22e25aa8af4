//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// NativePort wraps a tarm/serial port.
type NativePort struct {
	port *serial.Port
	cfg  *Config
}

// Open opens cfg.Device.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: nil config")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open console %s: %w", cfg.Device, err)
	}
	return &NativePort{port: port, cfg: cfg}, nil
}

func (p *NativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *NativePort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *NativePort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards unread input and unsent output.
func (p *NativePort) Flush() error {
	return p.port.Flush()
}
