// Package poller reads the thermocouple on a fixed cadence and keeps rolling
// statistics over the most recent readings.
package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/thermocouple/internal/max31855"
	"github.com/banshee-data/thermocouple/internal/monitoring"
	"github.com/banshee-data/thermocouple/internal/timeutil"
)

const (
	DefaultInterval = 100 * time.Millisecond
	DefaultWindow   = 32
)

// Transferer performs raw bus reads. *buspirate.Session satisfies it.
type Transferer interface {
	Transfer(ctx context.Context, n int) ([]byte, error)
}

// DecodeFunc converts a raw frame to °C.
type DecodeFunc func(frame []byte) (float64, error)

// Reading is one decoded sample.
type Reading struct {
	Time    time.Time               `json:"time"`
	Celsius float64                 `json:"celsius"`
	Raw     [max31855.FrameSize]byte `json:"raw"`
}

// Sink receives every successful reading.
type Sink func(Reading)

// Summary describes the readings currently in the window.
type Summary struct {
	Readings int      `json:"readings"` // successful readings since start
	Errors   int      `json:"errors"`   // failed readings since start
	Window   int      `json:"window"`   // readings the statistics cover
	Mean     float64  `json:"mean"`
	Median   float64  `json:"median"`
	StdDev   float64  `json:"stddev"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Last     *Reading `json:"last,omitempty"`
	LastErr  string   `json:"last_error,omitempty"`
}

// Options configure a Poller. Zero values take the defaults.
type Options struct {
	Interval time.Duration
	Window   int
	Decode   DecodeFunc
	Clock    timeutil.Clock
}

// Poller runs the read loop. Snapshot may be called from other goroutines
// while Run is active.
type Poller struct {
	interval time.Duration
	size     int
	decode   DecodeFunc
	clock    timeutil.Clock

	mu       sync.Mutex
	window   []float64
	next     int
	readings int
	errors   int
	last     *Reading
	lastErr  error
}

// New returns a Poller with defaults applied.
func New(opts Options) *Poller {
	p := &Poller{
		interval: opts.Interval,
		size:     opts.Window,
		decode:   opts.Decode,
		clock:    opts.Clock,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.size <= 0 {
		p.size = DefaultWindow
	}
	if p.decode == nil {
		p.decode = max31855.Decode
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	return p
}

// Run polls t until ctx is done and returns ctx.Err(). Cancellation is only
// observed between readings: a transfer already in flight finishes or hits
// its own timeout. A failed reading is logged and skipped.
func (p *Poller) Run(ctx context.Context, t Transferer, sink Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if r, err := p.Poll(context.WithoutCancel(ctx), t); err != nil {
			monitoring.Logf("poller: skipping reading: %v", err)
		} else if sink != nil {
			sink(r)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.interval):
		}
	}
}

// Poll takes a single reading and records it.
func (p *Poller) Poll(ctx context.Context, t Transferer) (Reading, error) {
	frame, err := t.Transfer(ctx, max31855.FrameSize)
	if err != nil {
		p.recordError(err)
		return Reading{}, err
	}
	celsius, err := p.decode(frame)
	if err != nil {
		p.recordError(err)
		return Reading{}, err
	}

	r := Reading{Time: p.clock.Now(), Celsius: celsius}
	copy(r.Raw[:], frame)
	p.record(r)
	return r, nil
}

func (p *Poller) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	p.lastErr = err
}

func (p *Poller) record(r Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings++
	p.last = &r
	if len(p.window) < p.size {
		p.window = append(p.window, r.Celsius)
		return
	}
	p.window[p.next] = r.Celsius
	p.next = (p.next + 1) % p.size
}

// Snapshot summarises the current window.
func (p *Poller) Snapshot() Summary {
	p.mu.Lock()
	xs := append([]float64(nil), p.window...)
	s := Summary{Readings: p.readings, Errors: p.errors, Window: len(xs)}
	if p.last != nil {
		last := *p.last
		s.Last = &last
	}
	if p.lastErr != nil {
		s.LastErr = p.lastErr.Error()
	}
	p.mu.Unlock()

	if len(xs) == 0 {
		return s
	}
	sort.Float64s(xs)
	s.Mean = stat.Mean(xs, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, xs, nil)
	if len(xs) > 1 {
		s.StdDev = stat.StdDev(xs, nil)
	}
	s.Min = xs[0]
	s.Max = xs[len(xs)-1]
	return s
}
