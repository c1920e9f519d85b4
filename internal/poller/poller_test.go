package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/thermocouple/internal/max31855"
	"github.com/banshee-data/thermocouple/internal/monitoring"
	"github.com/banshee-data/thermocouple/internal/timeutil"
)

// fakeBus replays frames in order and cancels the run once they are used up.
type fakeBus struct {
	mu     sync.Mutex
	frames [][]byte
	errs   []error
	calls  int
	sizes  []int
	ctxErr []error
	cancel context.CancelFunc
}

func (b *fakeBus) Transfer(ctx context.Context, n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	b.sizes = append(b.sizes, n)
	b.ctxErr = append(b.ctxErr, ctx.Err())
	if i == len(b.frames)-1 && b.cancel != nil {
		b.cancel()
	}
	if i < len(b.errs) && b.errs[i] != nil {
		return nil, b.errs[i]
	}
	return b.frames[i], nil
}

func frame(c float64) []byte {
	f := max31855.Encode(c, 25, 0)
	return f[:]
}

func quiet(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

func TestRun_DeliversReadingsUntilCancelled(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	bus := &fakeBus{frames: [][]byte{frame(20), frame(21), frame(22.5)}, cancel: cancel}
	p := New(Options{Interval: 250 * time.Millisecond, Clock: clock})

	var got []Reading
	err := p.Run(ctx, bus, func(r Reading) { got = append(got, r) })
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, got, 3)
	assert.Equal(t, 20.0, got[0].Celsius)
	assert.Equal(t, 21.0, got[1].Celsius)
	assert.Equal(t, 22.5, got[2].Celsius)
	assert.Equal(t, [4]byte(frame(22.5)), got[2].Raw)
	assert.True(t, got[1].Time.After(got[0].Time))

	assert.Equal(t, []int{4, 4, 4}, bus.sizes)
	// the transfer that triggered cancellation still ran to completion unaware
	assert.Equal(t, []error{nil, nil, nil}, bus.ctxErr)
	for _, d := range clock.Waits() {
		assert.Equal(t, 250*time.Millisecond, d)
	}
	assert.Len(t, clock.Waits(), 3)
}

func TestRun_SkipsFailedReadings(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	bus := &fakeBus{
		frames: [][]byte{frame(10), nil, {0x01}, frame(12)},
		errs:   []error{nil, boom, nil, nil},
		cancel: cancel,
	}
	p := New(Options{Clock: timeutil.NewMockClock(time.Unix(0, 0))})

	var got []float64
	err := p.Run(ctx, bus, func(r Reading) { got = append(got, r.Celsius) })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []float64{10, 12}, got)

	s := p.Snapshot()
	assert.Equal(t, 2, s.Readings)
	assert.Equal(t, 2, s.Errors)
	assert.Contains(t, s.LastErr, "malformed")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	quiet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := &fakeBus{frames: [][]byte{frame(1)}}
	err := New(Options{}).Run(ctx, bus, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, bus.calls)
}

func TestPoll_CustomDecoder(t *testing.T) {
	p := New(Options{Decode: max31855.DecodeChecked, Clock: timeutil.NewMockClock(time.Unix(0, 0))})

	fault := max31855.Encode(0, 25, max31855.OpenCircuit)
	bus := &fakeBus{frames: [][]byte{fault[:]}}
	_, err := p.Poll(context.Background(), bus)

	var fe *max31855.FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, max31855.OpenCircuit, fe.Faults)
	assert.Equal(t, 1, p.Snapshot().Errors)
}

func TestSnapshot(t *testing.T) {
	p := New(Options{Window: 4, Clock: timeutil.NewMockClock(time.Unix(0, 0))})

	s := p.Snapshot()
	assert.Zero(t, s.Window)
	assert.Nil(t, s.Last)

	for _, c := range []float64{1, 2, 3, 4, 5, 6} {
		_, err := p.Poll(context.Background(), &fakeBus{frames: [][]byte{frame(c)}})
		require.NoError(t, err)
	}

	s = p.Snapshot()
	assert.Equal(t, 6, s.Readings)
	assert.Equal(t, 4, s.Window, "only the most recent readings are kept")
	assert.Equal(t, 3.0, s.Min)
	assert.Equal(t, 6.0, s.Max)
	assert.InDelta(t, 4.5, s.Mean, 1e-9)
	assert.Equal(t, 4.0, s.Median)
	assert.InDelta(t, 1.2909944, s.StdDev, 1e-6)
	require.NotNil(t, s.Last)
	assert.Equal(t, 6.0, s.Last.Celsius)
}

func TestSnapshot_SingleReading(t *testing.T) {
	p := New(Options{})
	_, err := p.Poll(context.Background(), &fakeBus{frames: [][]byte{frame(6.25)}})
	require.NoError(t, err)

	s := p.Snapshot()
	assert.Equal(t, 6.25, s.Mean)
	assert.Equal(t, 6.25, s.Median)
	assert.Zero(t, s.StdDev)
}

func TestNew_Defaults(t *testing.T) {
	p := New(Options{})
	assert.Equal(t, DefaultInterval, p.interval)
	assert.Equal(t, DefaultWindow, p.size)
	assert.NotNil(t, p.decode)
	assert.IsType(t, timeutil.RealClock{}, p.clock)
}
