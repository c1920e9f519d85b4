package main

import (
	"flag"

	"github.com/banshee-data/thermocouple/internal/buspirate"
	"github.com/banshee-data/thermocouple/internal/config"
	"github.com/banshee-data/thermocouple/internal/max31855"
	"github.com/banshee-data/thermocouple/internal/poller"
	"github.com/banshee-data/thermocouple/internal/serialport"
)

// settings are the effective run options after merging the config file with
// the command line.
type settings struct {
	port     string
	session  buspirate.Options
	poll     poller.Options
	faults   bool
	units    string
	listen   string
	verbose  bool
	logFile  string
	count    int
	devMode  bool
	devTempC float64
}

// explicitFlags returns the names of the flags set on the command line.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// resolve merges cfg with the flag values. A flag wins over the file only when
// it was given explicitly; otherwise the file value (or its default) is used.
func resolve(cfg *config.Config, set map[string]bool) settings {
	if cfg == nil {
		cfg = &config.Config{}
	}

	s := settings{
		port:     cfg.GetPort(),
		faults:   cfg.GetCheckFaults(),
		units:    cfg.GetUnits(),
		listen:   cfg.GetListen(),
		verbose:  cfg.GetVerbose(),
		logFile:  cfg.GetLogFile(),
		count:    *count,
		devMode:  *devMode,
		devTempC: *devTemp,
	}
	baud := cfg.GetBaudRate()
	step := cfg.GetStepTimeout()
	settle := cfg.GetSettleDelay()
	powerOffOnClose := cfg.GetPowerOffOnClose()
	interval := cfg.GetPollInterval()
	win := cfg.GetWindow()

	if set["port"] {
		s.port = *port
	}
	if set["baud"] {
		baud = *baudRate
	}
	if set["faults"] {
		s.faults = *checkFaults
	}
	if set["units"] {
		s.units = *outputUnits
	}
	if set["listen"] {
		s.listen = *listen
	}
	if set["log-file"] {
		s.logFile = *logFile
	}
	if set["verbose"] {
		s.verbose = *verbose
	}
	if set["step-timeout"] {
		step = *stepTimeout
	}
	if set["settle"] {
		settle = *settleDelay
	}
	if set["power-off"] {
		powerOffOnClose = *powerOff
	}
	if set["interval"] {
		interval = *pollInterval
	}
	if set["window"] {
		win = *window
	}

	serialOpts := serialport.DefaultOptions()
	serialOpts.BaudRate = baud
	serialOpts.ReadTimeout = cfg.GetReadTimeout()

	s.session = buspirate.Options{
		Serial:          serialOpts,
		StepTimeout:     step,
		TransferTimeout: cfg.GetTransferTimeout(),
		SettleDelay:     settle,
		PowerOffOnClose: powerOffOnClose,
	}
	s.poll = poller.Options{
		Interval: interval,
		Window:   win,
		Decode:   max31855.Decode,
	}
	if s.faults {
		s.poll.Decode = max31855.DecodeChecked
	}
	return s
}

// devFrame returns the emulator's frame source: a steady reading around
// tempC with a little quarter-degree wobble.
func devFrame(tempC float64) func(n int) []byte {
	var i int
	wobble := []float64{0, 0.25, 0.5, 0.25, 0, -0.25}
	return func(n int) []byte {
		t := tempC + wobble[i%len(wobble)]
		i++
		f := max31855.Encode(t, 25, 0)
		return f[:]
	}
}
