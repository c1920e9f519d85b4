// Package serialport opens and describes the serial link to the Bus Pirate.
package serialport

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrWriteFailed is returned when the port accepts fewer bytes than written.
var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter extends Porter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// Opener creates serial ports. Sessions open their transport through an
// Opener so tests can substitute scripted ports.
type Opener interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts Options) (Porter, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string, opts Options) (Porter, error)

// Open calls f(path, opts).
func (f OpenerFunc) Open(path string, opts Options) (Porter, error) {
	return f(path, opts)
}

// WriteLine writes line to w terminated by a single newline.
func WriteLine(w io.Writer, line string) error {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n, err := w.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}
