package buspirate

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/thermocouple/internal/expect"
	"github.com/banshee-data/thermocouple/internal/monitoring"
	"github.com/banshee-data/thermocouple/internal/serialport"
	"github.com/banshee-data/thermocouple/internal/timeutil"
)

// State is the session's belief about the adapter.
type State int

const (
	StateUnopened State = iota
	StateConfiguring
	StateReady
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MinSettleDelay is the shortest wait after power-on before the converter's
// output can be trusted.
const MinSettleDelay = 500 * time.Millisecond

// resyncQuiet is how long the console must stay silent after a failed
// transfer before the next read command is sent.
const resyncQuiet = 50 * time.Millisecond

// Options configure a Session. Zero values take the defaults.
type Options struct {
	// Serial configures the port; defaults to 115200 8N1.
	Serial serialport.Options
	// StepTimeout bounds every menu prompt wait. Default 2s.
	StepTimeout time.Duration
	// TransferTimeout bounds the wait for the end of a raw read. Default 1s.
	TransferTimeout time.Duration
	// SettleDelay is waited after the supplies are switched on. Default and
	// minimum MinSettleDelay.
	SettleDelay time.Duration
	// PowerOffOnClose switches the supplies off before resetting on Close.
	PowerOffOnClose bool
	// Clock is used for the settle delay. Default timeutil.RealClock.
	Clock timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.StepTimeout <= 0 {
		o.StepTimeout = 2 * time.Second
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = time.Second
	}
	if o.SettleDelay < MinSettleDelay {
		o.SettleDelay = MinSettleDelay
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Session owns one Bus Pirate for its whole configured lifetime.
//
// A Session is single-owner: none of its methods may run concurrently.
type Session struct {
	opener serialport.Opener
	path   string
	opts   Options
	id     string

	state State
	port  serialport.Porter
	exp   *expect.Expecter

	// resync is set when a transfer ended before its terminator, so late
	// output from it may still be in flight.
	resync bool
}

// New returns an unopened session for the adapter at path.
func New(opener serialport.Opener, path string, opts Options) *Session {
	if opener == nil {
		opener = serialport.DefaultOpener
	}
	return &Session{
		opener: opener,
		path:   path,
		opts:   opts.withDefaults(),
		id:     uuid.NewString(),
		state:  StateUnopened,
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() State { return s.state }

// Path returns the serial device path.
func (s *Session) Path() string { return s.path }

func (s *Session) logf(format string, v ...interface{}) {
	monitoring.Logf("buspirate[%s]: "+format, append([]interface{}{s.id[:8]}, v...)...)
}

// Open drives the adapter menu into SPI mode, enables the supplies and waits
// for them to settle. It is only valid on an unopened session. On failure the
// session is faulted, the adapter is reset on a best-effort basis and the
// transport is released; the returned error is a *ConfigError.
func (s *Session) Open(ctx context.Context) error {
	if s.state != StateUnopened {
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, s.state)
	}
	s.state = StateConfiguring

	opts, err := s.opts.Serial.Normalize()
	if err != nil {
		s.state = StateFaulted
		return &ConfigError{Err: err}
	}
	s.logf("opening %s at %s", s.path, opts)
	port, err := s.opener.Open(s.path, opts)
	if err != nil {
		s.state = StateFaulted
		return &ConfigError{Err: err}
	}
	s.port = port
	s.exp = expect.New(port)

	for i, st := range openSequence {
		if err := ctx.Err(); err != nil {
			return s.fault(&ConfigError{Step: i + 1, Send: st.send, Await: st.await, Err: err})
		}
		if _, err := s.exchange(ctx, st, s.opts.StepTimeout); err != nil {
			return s.fault(&ConfigError{Step: i + 1, Send: st.send, Await: st.await, Err: err})
		}
	}

	select {
	case <-ctx.Done():
	case <-s.opts.Clock.After(s.opts.SettleDelay):
	}
	if err := ctx.Err(); err != nil {
		return s.fault(&ConfigError{Step: len(openSequence), Send: "W", Await: "settle delay", Err: err})
	}

	s.state = StateReady
	s.logf("ready: SPI 30KHz, supplies on")
	return nil
}

// fault moves the session to StateFaulted after a failed handshake. The reset
// command is sent once without waiting for recovery so the adapter is left at
// its top-level menu if it is still listening.
func (s *Session) fault(cerr *ConfigError) error {
	s.state = StateFaulted
	s.logf("configuration failed: %v", cerr)
	if err := s.exp.SendLine(resetCommand); err != nil {
		s.logf("reset after failure: %v", err)
	}
	if err := s.release(); err != nil {
		s.logf("release after failure: %v", err)
	}
	return cerr
}

func (s *Session) exchange(ctx context.Context, st step, timeout time.Duration) ([]byte, error) {
	if err := s.exp.SendLine(st.send); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	return s.exp.ExpectString(ctx, st.await, timeout)
}

// Transfer clocks n bytes in from the SPI bus and returns them in order. It is
// only valid on a ready session. Failures are returned as *TransferError and
// leave the session ready; no partial data is ever returned.
//
// Only output that follows the echo of this transfer's own command is parsed.
// A terminator with no echo before it belongs to an earlier transfer and is
// skipped.
func (s *Session) Transfer(ctx context.Context, n int) ([]byte, error) {
	if s.state != StateReady {
		return nil, fmt.Errorf("%w: transfer in state %s", ErrInvalidState, s.state)
	}
	if n < 1 || n > MaxTransfer {
		return nil, &TransferError{N: n, Reason: fmt.Sprintf("length must be between 1 and %d", MaxTransfer)}
	}

	if s.resync {
		if dropped := s.exp.Drain(resyncQuiet); dropped > 0 {
			s.logf("dropped %d bytes of stale output", dropped)
		}
		s.resync = false
	} else {
		s.exp.Discard()
	}

	cmd := fmt.Sprintf(readCommand, n)
	if err := s.exp.SendLine(cmd); err != nil {
		s.resync = true
		return nil, &TransferError{N: n, Reason: "sending " + cmd, Err: err}
	}

	deadline := time.Now().Add(s.opts.TransferTimeout)
	for {
		before, err := s.exp.ExpectString(ctx, csDisabled, time.Until(deadline))
		if err != nil {
			s.resync = true
			return nil, &TransferError{N: n, Reason: "awaiting " + csDisabled, Err: err}
		}

		i := bytes.LastIndex(before, []byte(cmd))
		if i < 0 {
			s.logf("skipping %s with no %s echo before it", csDisabled, cmd)
			continue
		}
		data, err := ParseReadTokens(before[i+len(cmd):], n)
		if err != nil {
			return nil, &TransferError{N: n, Reason: "decoding response", Err: err}
		}
		return data, nil
	}
}

// Close returns the adapter to its top-level menu and releases the transport.
// It is a no-op on an unopened or closed session and safe to call after a
// fault. The transport is released even when the reset fails.
func (s *Session) Close() error {
	switch s.state {
	case StateUnopened, StateClosed:
		return nil
	}

	var firstErr error
	if s.state == StateReady {
		ctx := context.Background()
		if s.opts.PowerOffOnClose {
			if _, err := s.exchange(ctx, step{send: powerOff, await: powerOffReply}, s.opts.StepTimeout); err != nil {
				s.logf("power off: %v", err)
			}
		}
		if _, err := s.exchange(ctx, step{send: resetCommand, await: resetBanner}, s.opts.StepTimeout); err != nil {
			firstErr = fmt.Errorf("buspirate: reset on close: %w", err)
		}
	}

	if err := s.release(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("buspirate: close transport: %w", err)
	}
	s.state = StateClosed
	s.logf("closed %s", s.path)
	return firstErr
}

func (s *Session) release() error {
	if s.exp != nil {
		s.exp.Stop()
		s.exp = nil
	}
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
