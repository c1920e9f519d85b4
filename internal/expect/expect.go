// Package expect turns a character stream into a send-and-wait dialogue:
// write a command, then block until a known substring or pattern shows up in
// the output, keeping whatever arrived before it for the caller to parse.
package expect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/thermocouple/internal/monitoring"
	"github.com/banshee-data/thermocouple/internal/serialport"
)

// ErrTimeout is matched by errors.Is for every expectation that timed out.
var ErrTimeout = errors.New("expect: timeout")

// ErrStopped is returned once the Expecter has been stopped.
var ErrStopped = errors.New("expect: stopped")

// maxBuffered caps how much unmatched output is retained. The Bus Pirate
// never prints more than a menu page between prompts.
const maxBuffered = 64 * 1024

// TimeoutError reports an expectation that did not match in time.
type TimeoutError struct {
	Pattern  string
	Timeout  time.Duration
	Buffered []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("expect: %q not seen within %s (buffered %s)",
		e.Pattern, e.Timeout, strconv.Quote(string(e.Buffered)))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Matcher locates a pattern in the accumulated output.
type Matcher interface {
	// Match returns the byte range of the first match in buf.
	Match(buf []byte) (start, end int, ok bool)
	String() string
}

// Substring matches an exact byte sequence.
type Substring string

func (s Substring) Match(buf []byte) (int, int, bool) {
	i := bytes.Index(buf, []byte(s))
	if i < 0 {
		return 0, 0, false
	}
	return i, i + len(s), true
}

func (s Substring) String() string { return string(s) }

// Pattern wraps a regular expression as a Matcher.
type Pattern struct{ *regexp.Regexp }

func (p Pattern) Match(buf []byte) (int, int, bool) {
	loc := p.FindIndex(buf)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

type chunk struct {
	data []byte
	err  error
}

// Expecter owns the read side of a stream. A background goroutine drains the
// reader into a channel so that every wait can be bounded by a timeout even
// when the underlying Read blocks. It is not safe for concurrent use.
type Expecter struct {
	w      io.Writer
	chunks chan chunk
	done   chan struct{}
	stop   sync.Once

	buf     []byte
	readErr error
}

// New starts draining rw and returns an Expecter writing commands to it.
func New(rw io.ReadWriter) *Expecter {
	e := &Expecter{
		w:      rw,
		chunks: make(chan chunk),
		done:   make(chan struct{}),
	}
	go e.pump(rw)
	return e
}

func (e *Expecter) pump(r io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case e.chunks <- chunk{data: data}:
			case <-e.done:
				return
			}
		}
		if err != nil {
			select {
			case e.chunks <- chunk{err: err}:
			case <-e.done:
			}
			return
		}
		// a zero-length read is a port read timeout; check whether we were stopped
		select {
		case <-e.done:
			return
		default:
		}
	}
}

// SendLine writes line followed by a newline.
func (e *Expecter) SendLine(line string) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	monitoring.Debugf("expect: >> %q", line)
	return serialport.WriteLine(e.w, line)
}

// ExpectString waits for the literal s.
func (e *Expecter) ExpectString(ctx context.Context, s string, timeout time.Duration) ([]byte, error) {
	return e.Expect(ctx, Substring(s), timeout)
}

// ExpectRegexp waits for the first match of re.
func (e *Expecter) ExpectRegexp(ctx context.Context, re *regexp.Regexp, timeout time.Duration) ([]byte, error) {
	return e.Expect(ctx, Pattern{re}, timeout)
}

// Expect consumes output until m matches, the timeout elapses or ctx is done.
// On a match it returns a copy of everything that preceded the match; the
// matched text is dropped and anything after it stays buffered for the next
// call. On timeout the buffered output is kept and reported in the error.
func (e *Expecter) Expect(ctx context.Context, m Matcher, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if start, end, ok := m.Match(e.buf); ok {
			before := bytes.Clone(e.buf[:start])
			e.buf = bytes.Clone(e.buf[end:])
			monitoring.Debugf("expect: matched %q after %q", m.String(), before)
			return before, nil
		}
		if e.readErr != nil {
			return nil, fmt.Errorf("expect: waiting for %q: %w", m.String(), e.readErr)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("expect: waiting for %q: %w", m.String(), ctx.Err())
		case <-e.done:
			return nil, ErrStopped
		case <-timer.C:
			return nil, &TimeoutError{Pattern: m.String(), Timeout: timeout, Buffered: bytes.Clone(e.buf)}
		case c := <-e.chunks:
			if c.err != nil {
				e.readErr = c.err
				continue
			}
			monitoring.Debugf("expect: << %q", c.data)
			e.buf = append(e.buf, c.data...)
			if len(e.buf) > maxBuffered {
				e.buf = e.buf[len(e.buf)-maxBuffered:]
			}
		}
	}
}

// Buffered returns a copy of the output received but not yet consumed.
func (e *Expecter) Buffered() []byte { return bytes.Clone(e.buf) }

// Discard drops any buffered output.
func (e *Expecter) Discard() { e.buf = nil }

// Drain drops the buffered output and keeps dropping whatever arrives until
// the stream has been silent for quiet. It returns the number of bytes
// dropped. Drain gives up after maxBuffered bytes so a chattering stream
// cannot hold it forever.
func (e *Expecter) Drain(quiet time.Duration) int {
	n := len(e.buf)
	e.buf = nil

	timer := time.NewTimer(quiet)
	defer timer.Stop()
	for n <= maxBuffered {
		select {
		case <-e.done:
			return n
		case <-timer.C:
			return n
		case c := <-e.chunks:
			if c.err != nil {
				e.readErr = c.err
				return n
			}
			monitoring.Debugf("expect: drained %q", c.data)
			n += len(c.data)
			timer.Reset(quiet)
		}
	}
	return n
}

// Stop ends the background reader. It does not close the stream; the reader
// goroutine exits on its next read timeout or when the stream is closed.
func (e *Expecter) Stop() {
	e.stop.Do(func() { close(e.done) })
}
