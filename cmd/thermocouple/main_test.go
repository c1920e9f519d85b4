package main

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/thermocouple/internal/buspirate"
	"github.com/banshee-data/thermocouple/internal/config"
	"github.com/banshee-data/thermocouple/internal/max31855"
	"github.com/banshee-data/thermocouple/internal/monitoring"
	"github.com/banshee-data/thermocouple/internal/poller"
	"github.com/banshee-data/thermocouple/internal/timeutil"
)

func devSettings(clock timeutil.Clock, n int) settings {
	return settings{
		devMode:  true,
		devTempC: 21.5,
		units:    "c",
		count:    n,
		session:  buspirate.Options{Clock: clock},
		poll: poller.Options{
			Interval: 100 * time.Millisecond,
			Window:   8,
			Decode:   max31855.Decode,
			Clock:    clock,
		},
	}
}

func TestRun_DevMode(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	clock := timeutil.NewMockClock(time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC))
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), devSettings(clock, 3), &out))

	assert.Equal(t, "21.50\n21.75\n22.00\n", out.String())
	// settle delay first, then the poll interval between readings
	waits := clock.Waits()
	require.NotEmpty(t, waits)
	assert.Equal(t, buspirate.MinSettleDelay, waits[0])
}

func TestRun_Fahrenheit(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	s := devSettings(timeutil.NewMockClock(time.Unix(0, 0)), 2)
	s.devTempC = 100
	s.units = "f"

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), s, &out))
	assert.Equal(t, "212.00\n212.45\n", out.String())
}

func TestRun_CancelledBeforeOpen(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	assert.NoError(t, run(ctx, devSettings(timeutil.NewMockClock(time.Unix(0, 0)), 1), &out))
	assert.Empty(t, out.String())
}

func TestRun_OpenFailure(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	s := devSettings(timeutil.NewMockClock(time.Unix(0, 0)), 1)
	s.devMode = false
	s.port = "/dev/does-not-exist-thermocouple"

	err := run(context.Background(), s, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to configure bus pirate")
}

func TestResolve_Defaults(t *testing.T) {
	s := resolve(nil, map[string]bool{})

	assert.Equal(t, config.DefaultPort, s.port)
	assert.Equal(t, config.DefaultBaudRate, s.session.Serial.BaudRate)
	assert.Equal(t, config.DefaultStepTimeout, s.session.StepTimeout)
	assert.Equal(t, config.DefaultTransferTimeout, s.session.TransferTimeout)
	assert.Equal(t, config.DefaultSettleDelay, s.session.SettleDelay)
	assert.False(t, s.session.PowerOffOnClose)
	assert.Equal(t, config.DefaultPollInterval, s.poll.Interval)
	assert.Equal(t, config.DefaultWindow, s.poll.Window)
	assert.False(t, s.faults)
	assert.Empty(t, s.listen)
	assert.Equal(t, "c", s.units)
	assert.NoError(t, s.validate())
}

func TestResolve_FileThenFlags(t *testing.T) {
	filePort := "/dev/ttyACM0"
	fileInterval := "2s"
	fileFaults := true
	cfg := &config.Config{Port: &filePort, PollInterval: &fileInterval, CheckFaults: &fileFaults}

	s := resolve(cfg, map[string]bool{})
	assert.Equal(t, "/dev/ttyACM0", s.port)
	assert.Equal(t, 2*time.Second, s.poll.Interval)
	assert.True(t, s.faults)

	// explicit flags win; their values are the flag defaults here
	s = resolve(cfg, map[string]bool{"port": true, "interval": true, "faults": true})
	assert.Equal(t, *port, s.port)
	assert.Equal(t, *pollInterval, s.poll.Interval)
	assert.False(t, s.faults)
}

func TestResolve_FaultsSelectsCheckedDecoder(t *testing.T) {
	on := true
	s := resolve(&config.Config{CheckFaults: &on}, nil)

	fault := max31855.Encode(0, 25, max31855.OpenCircuit)
	_, err := s.poll.Decode(fault[:])
	assert.Error(t, err)

	s = resolve(nil, nil)
	_, err = s.poll.Decode(fault[:])
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := resolve(nil, nil)

	tests := []struct {
		name    string
		mutate  func(*settings)
		wantErr string
	}{
		{"no port", func(s *settings) { s.port = "" }, "serial port is required"},
		{"bad units", func(s *settings) { s.units = "rankine" }, "invalid units"},
		{"negative count", func(s *settings) { s.count = -1 }, "count must not be negative"},
		{"zero interval", func(s *settings) { s.poll.Interval = 0 }, "interval must be positive"},
		{"zero window", func(s *settings) { s.poll.Window = 0 }, "window must be positive"},
		{"short settle", func(s *settings) { s.session.SettleDelay = 100 * time.Millisecond }, "settle delay must be at least"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
		})
	}

	dev := base
	dev.port = ""
	dev.devMode = true
	assert.NoError(t, dev.validate(), "dev mode needs no port")

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		bad := dev
		bad.devTempC = v
		err := bad.validate()
		require.Error(t, err, "dev temperature %v", v)
		assert.Contains(t, err.Error(), "dev temperature must be a finite number")
	}
}

func TestDevFrame(t *testing.T) {
	next := devFrame(20)
	var got []float64
	for i := 0; i < 7; i++ {
		c, err := max31855.Decode(next(4))
		require.NoError(t, err)
		got = append(got, c)
	}
	assert.Equal(t, []float64{20, 20.25, 20.5, 20.25, 20, 19.75, 20}, got)
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "/dev/ttyUSB0", *port)
	assert.Empty(t, *listen, "debug pages are off by default")
	assert.Equal(t, 100*time.Millisecond, *pollInterval)
	assert.Equal(t, 500*time.Millisecond, *settleDelay)
	assert.False(t, *checkFaults)
	assert.False(t, *powerOff)
	assert.Zero(t, *count)
}
