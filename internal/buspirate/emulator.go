package buspirate

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/thermocouple/internal/serialport"
)

// Emulator is an in-memory Bus Pirate v3 that understands the subset of the
// console used by Session: reset, the SPI mode menu, the power supplies and
// raw reads. It is used by the -dev mode of the CLI and by tests.
type Emulator struct {
	*serialport.TestablePort

	mu      sync.Mutex
	menu    int
	power   bool
	pending []byte
	frame   func(n int) []byte
}

const (
	menuTop = iota
	menuMode
	menuSpeed
	menuPolarity
	menuEdge
	menuSample
	menuCS
	menuOutput
	menuSPI
)

// the SPI submenu chain: prompt printed when entering each menu
var spiPrompts = map[int]string{
	menuSpeed:    "Set speed:\r\n 1. 30KHz\r\n 2. 125KHz\r\n 3. 250KHz\r\n 4. 1MHz\r\n\r\n(1)>",
	menuPolarity: "Clock polarity:\r\n 1. Idle low *default\r\n 2. Idle high\r\n\r\n(1)>",
	menuEdge:     "Output clock edge:\r\n 1. Idle to active\r\n 2. Active to idle *default\r\n\r\n(2)>",
	menuSample:   "Input sample phase:\r\n 1. Middle *default\r\n 2. End\r\n\r\n(1)>",
	menuCS:       "CS:\r\n 1. CS\r\n 2. /CS *default\r\n\r\n(2)>",
	menuOutput:   "Select output type:\r\n 1. Open drain (H=Hi-Z, L=GND)\r\n 2. Normal (H=3.3V, L=GND)\r\n\r\n(1)>",
}

const (
	emulatorBanner = "RESET\r\n\r\nBus Pirate v3b\r\nFirmware v5.10 (r559)  Bootloader v4.4\r\n" +
		"DEVID:0x0447 REVID:0x3046 (24FJ64GA002 B8)\r\nhttp://dangerousprototypes.com\r\nHiZ>"
	emulatorModes = "1. HiZ\r\n2. 1-WIRE\r\n3. UART\r\n4. I2C\r\n5. SPI\r\n6. 2WIRE\r\n7. 3WIRE\r\n" +
		"8. LCD\r\n9. DIO\r\nx. exit(without change)\r\n\r\n(1)>"
	emulatorSyntax = "Syntax error at char 1\r\n"
)

var rawRead = regexp.MustCompile(`^\[r:(\d+)\]$`)

// NewEmulator returns an emulator whose raw reads return frame(n).
func NewEmulator(frame func(n int) []byte) *Emulator {
	return &Emulator{
		TestablePort: serialport.NewTestablePort(),
		frame:        frame,
	}
}

// Powered reports whether the supplies are on.
func (e *Emulator) Powered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.power
}

// Write feeds console input to the emulator.
func (e *Emulator) Write(b []byte) (int, error) {
	n, err := e.TestablePort.Write(b)
	if err != nil {
		return n, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, b[:n]...)
	for {
		i := bytes.IndexByte(e.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(e.pending[:i]))
		e.pending = e.pending[i+1:]
		// the console echoes what it receives
		e.AddReadData([]byte(line + "\r\n" + e.handle(line)))
	}
	return n, nil
}

func (e *Emulator) prompt() string {
	if e.menu == menuSPI {
		return "SPI>"
	}
	return "HiZ>"
}

func (e *Emulator) handle(line string) string {
	if line == "#" {
		e.menu = menuTop
		e.power = false
		return emulatorBanner
	}

	if e.menu >= menuSpeed && e.menu <= menuOutput {
		if line != "1" && line != "2" && !(e.menu == menuSpeed && (line == "3" || line == "4")) {
			return "Invalid choice, try again\r\n" + spiPrompts[e.menu]
		}
		e.menu++
		if e.menu == menuSPI {
			return "Ready\r\nSPI>"
		}
		return spiPrompts[e.menu]
	}

	switch {
	case line == "m":
		e.menu = menuMode
		return emulatorModes
	case e.menu == menuMode && line == "5":
		e.menu = menuSpeed
		return spiPrompts[menuSpeed]
	case e.menu == menuMode:
		e.menu = menuTop
		return emulatorSyntax + "HiZ>"
	case line == "W" && e.menu == menuSPI:
		e.power = true
		return "Power supplies ON\r\nSPI>"
	case line == "w" && e.menu == menuSPI:
		e.power = false
		return "Power supplies OFF\r\nSPI>"
	case e.menu == menuSPI && rawRead.MatchString(line):
		n, _ := strconv.Atoi(rawRead.FindStringSubmatch(line)[1])
		return e.read(n)
	}
	return emulatorSyntax + e.prompt()
}

func (e *Emulator) read(n int) string {
	var sb strings.Builder
	sb.WriteString("/CS ENABLED\r\nREAD:")
	data := make([]byte, n)
	if e.power && e.frame != nil {
		copy(data, e.frame(n))
	}
	for _, b := range data {
		fmt.Fprintf(&sb, " 0x%02X", b)
	}
	sb.WriteString(" \r\n/CS DISABLED\r\nSPI>")
	return sb.String()
}
