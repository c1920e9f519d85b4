package serialport

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial device at path using go.bug.st/serial and applies the
// read timeout from opts.
func Open(path string, opts Options) (Porter, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	// Drop whatever the adapter printed before we attached.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("reset input buffer on %s: %w", path, err)
	}
	return port, nil
}

// DefaultOpener opens real serial ports.
var DefaultOpener Opener = OpenerFunc(Open)

// ListPorts returns the serial ports known to the operating system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
