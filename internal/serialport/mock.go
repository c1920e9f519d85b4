package serialport

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrPortClosed is returned by the test ports after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestablePort implements TimeoutPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes and errors.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// CloseCalls records the number of Close calls
	CloseCalls int

	// ReadTimeout is how long an empty Read waits before returning 0, nil.
	// It mimics a real port opened with a read timeout.
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	tp := &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		ReadTimeout: 2 * time.Millisecond,
	}
	tp.readCond = sync.NewCond(&tp.mu)
	return tp
}

// Read reads from the read buffer, optionally simulating errors and timeouts.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 {
		if t.BlockReads {
			for !t.Closed && t.ReadBuffer.Len() == 0 {
				t.readCond.Wait()
			}
			if t.Closed {
				return 0, ErrPortClosed
			}
		} else {
			t.mu.Unlock()
			time.Sleep(t.ReadTimeout)
			t.mu.Lock()
			if t.ReadBuffer.Len() == 0 {
				return 0, nil
			}
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.CloseCalls++
	t.readCond.Broadcast()

	return t.CloseError
}

// SetReadTimeout implements TimeoutPorter.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// WrittenData returns all data written to the port.
func (t *TestablePort) WrittenData() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.String()
}

// IsClosed reports whether Close has been called.
func (t *TestablePort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.Closed
}

// Exchange is one scripted command and the adapter output it produces.
type Exchange struct {
	// Line is the command the client must write, without the trailing newline.
	Line string
	// Reply becomes readable once Line has been written.
	Reply string
}

// ScriptedPort plays back a fixed conversation. Every complete line written
// is matched against the next Exchange; on a match its Reply is queued for
// reading, otherwise the line is recorded as unexpected and nothing is sent.
type ScriptedPort struct {
	*TestablePort

	smu        sync.Mutex
	script     []Exchange
	pending    []byte
	lines      []string
	unexpected []string
}

// NewScriptedPort returns a port that answers with the given script.
func NewScriptedPort(script ...Exchange) *ScriptedPort {
	return &ScriptedPort{
		TestablePort: NewTestablePort(),
		script:       script,
	}
}

// Write records p and answers each completed line from the script.
func (p *ScriptedPort) Write(b []byte) (int, error) {
	n, err := p.TestablePort.Write(b)
	if err != nil {
		return n, err
	}

	p.smu.Lock()
	defer p.smu.Unlock()

	p.pending = append(p.pending, b[:n]...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(p.pending[:i]), "\r")
		p.pending = p.pending[i+1:]
		p.lines = append(p.lines, line)
		p.respond(line)
	}
	return n, nil
}

func (p *ScriptedPort) respond(line string) {
	if len(p.script) == 0 || p.script[0].Line != line {
		p.unexpected = append(p.unexpected, line)
		return
	}
	reply := p.script[0].Reply
	p.script = p.script[1:]
	if reply != "" {
		p.AddReadData([]byte(reply))
	}
}

// Append adds exchanges to the end of the script.
func (p *ScriptedPort) Append(script ...Exchange) {
	p.smu.Lock()
	defer p.smu.Unlock()
	p.script = append(p.script, script...)
}

// Lines returns every complete line written so far.
func (p *ScriptedPort) Lines() []string {
	p.smu.Lock()
	defer p.smu.Unlock()
	return append([]string(nil), p.lines...)
}

// Unexpected returns the written lines that did not match the script.
func (p *ScriptedPort) Unexpected() []string {
	p.smu.Lock()
	defer p.smu.Unlock()
	return append([]string(nil), p.unexpected...)
}

// Remaining reports how many exchanges have not been played yet.
func (p *ScriptedPort) Remaining() int {
	p.smu.Lock()
	defer p.smu.Unlock()
	return len(p.script)
}

// MockOpener implements Opener for testing.
type MockOpener struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port Porter

	// Error is returned by Open if set
	Error error

	// Calls records all Open calls
	Calls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options Options
}

// NewMockOpener creates a new MockOpener.
func NewMockOpener(port Porter) *MockOpener {
	return &MockOpener{Port: port}
}

// Open returns the configured port or error.
func (o *MockOpener) Open(path string, opts Options) (Porter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.Calls = append(o.Calls, MockOpenCall{Path: path, Options: opts})

	if o.Error != nil {
		return nil, o.Error
	}
	return o.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (o *MockOpener) LastCall() *MockOpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.Calls) == 0 {
		return nil
	}
	return &o.Calls[len(o.Calls)-1]
}
