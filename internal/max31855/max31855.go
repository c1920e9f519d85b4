// Package max31855 decodes frames read from the Maxim Integrated MAX31855
// thermocouple-to-digital converter.
//
// The chip answers every read with a 32-bit big-endian frame:
//
//	D31..D18  thermocouple temperature, 14-bit two's complement, 0.25°C/LSB
//	D17       reserved
//	D16       fault
//	D15..D4   internal (cold junction) temperature, 12-bit two's complement, 0.0625°C/LSB
//	D3        reserved
//	D2        short to VCC
//	D1        short to GND
//	D0        open circuit
//
// Decode reports only the thermocouple field. DecodeFrame additionally
// returns the internal temperature and fault bits.
//
// Datasheet: https://datasheets.maximintegrated.com/en/ds/MAX31855.pdf
package max31855

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// FrameSize is the number of bytes in one conversion result.
const FrameSize = 4

const (
	// ThermocoupleResolution is the weight of one thermocouple LSB in °C.
	ThermocoupleResolution = 0.25
	// InternalResolution is the weight of one internal temperature LSB in °C.
	InternalResolution = 0.0625

	// MinThermocouple and MaxThermocouple bound the 14-bit field.
	MinThermocouple = -8192 * ThermocoupleResolution
	MaxThermocouple = 8191 * ThermocoupleResolution
)

// ErrMalformedFrame is returned for input that is not exactly FrameSize bytes.
var ErrMalformedFrame = errors.New("max31855: malformed frame")

func word(frame []byte) (uint32, error) {
	if len(frame) != FrameSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedFrame, len(frame), FrameSize)
	}
	return binary.BigEndian.Uint32(frame), nil
}

// thermocouple sign-extends D31..D18.
func thermocouple(v uint32) float64 {
	return float64(int32(v)>>18) * ThermocoupleResolution
}

// internal sign-extends D15..D4.
func internal(v uint32) float64 {
	return float64(int16(uint16(v))>>4) * InternalResolution
}

// Decode returns the thermocouple temperature in °C carried by frame. The
// internal temperature and fault bits are ignored.
func Decode(frame []byte) (float64, error) {
	v, err := word(frame)
	if err != nil {
		return 0, err
	}
	return thermocouple(v), nil
}

// Faults is the set of fault bits D2..D0.
type Faults uint8

const (
	OpenCircuit Faults = 1 << iota
	ShortToGND
	ShortToVCC
)

func (f Faults) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&OpenCircuit != 0 {
		parts = append(parts, "thermocouple open circuit")
	}
	if f&ShortToGND != 0 {
		parts = append(parts, "thermocouple shorted to ground")
	}
	if f&ShortToVCC != 0 {
		parts = append(parts, "thermocouple shorted to VCC")
	}
	return strings.Join(parts, ", ")
}

// FaultError is returned by Frame.Err when the chip flagged a fault.
type FaultError struct {
	Faults Faults
}

func (e *FaultError) Error() string {
	if e.Faults == 0 {
		return "max31855: unspecified fault"
	}
	return "max31855: " + e.Faults.String()
}

// Frame is a fully decoded conversion result.
type Frame struct {
	Thermocouple float64 // °C
	Internal     float64 // °C
	Fault        bool
	Faults       Faults
}

// DecodeFrame decodes every field of frame.
func DecodeFrame(frame []byte) (Frame, error) {
	v, err := word(frame)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Thermocouple: thermocouple(v),
		Internal:     internal(v),
		Fault:        v&(1<<16) != 0,
		Faults:       Faults(v & 0x7),
	}, nil
}

// Err returns a *FaultError when the fault bit is set. Some parts raise D16
// without a specific cause bit, which is reported as "unspecified fault".
func (f Frame) Err() error {
	if !f.Fault {
		return nil
	}
	return &FaultError{Faults: f.Faults}
}

// DecodeChecked is Decode that also rejects frames with the fault bit set.
func DecodeChecked(frame []byte) (float64, error) {
	f, err := DecodeFrame(frame)
	if err != nil {
		return 0, err
	}
	if err := f.Err(); err != nil {
		return 0, err
	}
	return f.Thermocouple, nil
}

// Encode builds the frame the chip would send for the given readings. Values
// are truncated to the field resolution and clamped to the field range; NaN
// encodes as zero.
func Encode(thermoC, internalC float64, faults Faults) [FrameSize]byte {
	t := field(thermoC/ThermocoupleResolution, -8192, 8191)
	i := field(internalC/InternalResolution, -2048, 2047)

	v := uint32(t)<<18 | (uint32(i)&0xFFF)<<4 | uint32(faults&0x7)
	if faults != 0 {
		v |= 1 << 16
	}
	var out [FrameSize]byte
	binary.BigEndian.PutUint32(out[:], v)
	return out
}

// field clamps v in float64 before converting, since out of range float to
// int conversions are implementation-defined.
func field(v, lo, hi float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return int32(lo)
	case v > hi:
		return int32(hi)
	}
	return int32(v)
}
