package buspirate

// step is one menu transition: send a command line, then wait for a prompt.
type step struct {
	send  string
	await string
}

const (
	resetCommand  = "#"
	resetBanner   = "Bus Pirate v3"
	powerOff      = "w"
	powerOffReply = "Power supplies OFF"

	// readCommand clocks in N bytes between a chip-select assert and deassert.
	readCommand = "[r:%d]"
	readMarker  = "READ:"
	// csDisabled is printed when "]" deasserts chip select.
	csDisabled = "/CS DISABLED"

	// MaxTransfer is the largest repeat count accepted by the r:N syntax.
	MaxTransfer = 255
)

// openSequence puts the adapter in SPI mode at 30KHz, CPOL=0, output on the
// active-to-idle edge, sample in the middle, active-low CS, push-pull outputs,
// and switches on the 3.3V/5V supplies that power the converter.
var openSequence = []step{
	{send: resetCommand, await: resetBanner},  // reset to the top-level menu
	{send: "m", await: "exit"},                // mode menu
	{send: "5", await: "Set speed:"},          // 5. SPI
	{send: "1", await: "Clock polarity:"},     // 1. 30KHz
	{send: "1", await: "Output clock edge:"},  // 1. Idle low
	{send: "2", await: "Input sample phase:"}, // 2. Active to idle
	{send: "1", await: "CS:"},                 // 1. Middle
	{send: "2", await: "Select output type:"}, // 2. /CS
	{send: "2", await: "Ready"},               // 2. Normal (H=3.3V, L=GND)
	{send: "W", await: "Power supplies ON"},
}
