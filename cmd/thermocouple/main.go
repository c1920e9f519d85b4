package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/thermocouple/internal/buspirate"
	"github.com/banshee-data/thermocouple/internal/config"
	"github.com/banshee-data/thermocouple/internal/debugpage"
	"github.com/banshee-data/thermocouple/internal/monitoring"
	"github.com/banshee-data/thermocouple/internal/poller"
	"github.com/banshee-data/thermocouple/internal/serialport"
	"github.com/banshee-data/thermocouple/internal/units"
	"github.com/banshee-data/thermocouple/internal/version"
)

var (
	port         = flag.String("port", config.DefaultPort, "Serial port of the Bus Pirate")
	configPath   = flag.String("config", "", "Optional JSON config file")
	devMode      = flag.Bool("dev", false, "Read from an emulated Bus Pirate instead of a serial port")
	devTemp      = flag.Float64("dev-temp", 21.5, "Temperature reported in dev mode (°C)")
	checkFaults  = flag.Bool("faults", false, "Decode the fault bits and skip frames that report a fault")
	outputUnits  = flag.String("units", units.Celsius, "Output unit: "+units.GetValidUnitsString())
	listen       = flag.String("listen", "", "Address for the debug pages, e.g. localhost:8090 (disabled when empty)")
	pollInterval = flag.Duration("interval", config.DefaultPollInterval, "Delay between readings")
	window       = flag.Int("window", config.DefaultWindow, "Number of recent readings summarised on the debug page")
	baudRate     = flag.Int("baud", config.DefaultBaudRate, "Serial baud rate")
	stepTimeout  = flag.Duration("step-timeout", config.DefaultStepTimeout, "Timeout for each configuration prompt")
	settleDelay  = flag.Duration("settle", config.DefaultSettleDelay, "Wait after switching the supplies on (minimum 500ms)")
	powerOff     = flag.Bool("power-off", false, "Switch the supplies off before resetting on exit")
	count        = flag.Int("count", 0, "Stop after this many readings (0 runs until interrupted)")
	verbose      = flag.Bool("verbose", false, "Log serial traffic")
	logFile      = flag.String("log-file", "", "Write logs to this file with size-based rotation instead of stderr")
	showVersion  = flag.Bool("version", false, "Print version and exit")
	listPorts    = flag.Bool("list-ports", false, "List serial ports and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	s := resolve(cfg, explicitFlags(flag.CommandLine))
	if err := s.validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}
	logs := setupLogging(s.logFile)
	defer logs.Close()
	monitoring.SetVerbose(s.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, s, os.Stdout); err != nil {
		log.Printf("thermocouple: %v", err)
		logs.Close()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

func (s settings) validate() error {
	if s.port == "" && !s.devMode {
		return errors.New("serial port is required")
	}
	if s.devMode && (math.IsNaN(s.devTempC) || math.IsInf(s.devTempC, 0)) {
		return fmt.Errorf("dev temperature must be a finite number, got %v", s.devTempC)
	}
	if !units.IsValid(s.units) {
		return fmt.Errorf("invalid units %q: expected one of %s", s.units, units.GetValidUnitsString())
	}
	if s.count < 0 {
		return fmt.Errorf("count must not be negative, got %d", s.count)
	}
	if s.poll.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.poll.Interval)
	}
	if s.poll.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", s.poll.Window)
	}
	if s.session.SettleDelay < buspirate.MinSettleDelay {
		return fmt.Errorf("settle delay must be at least %s, got %s", buspirate.MinSettleDelay, s.session.SettleDelay)
	}
	return nil
}

// run configures the adapter, polls it until ctx is done or count readings
// have been printed to out, and returns the adapter to its top-level menu.
func run(ctx context.Context, s settings, out io.Writer) error {
	var opener serialport.Opener = serialport.DefaultOpener
	path := s.port
	if s.devMode {
		opener = serialport.NewMockOpener(buspirate.NewEmulator(devFrame(s.devTempC)))
		path = "emulator"
	}

	session := buspirate.New(opener, path, s.session)
	if err := session.Open(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to configure bus pirate: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("failed to close bus pirate: %v", err)
		}
	}()

	p := poller.New(s.poll)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var feed *debugpage.Feed
	if s.listen != "" {
		feed = debugpage.NewFeed()

		// the server is stopped before Close, so the session state is not
		// written while handlers read it
		mux := http.NewServeMux()
		debugpage.Attach(mux, func() debugpage.Status {
			return debugpage.Status{
				Session: session.ID(),
				State:   session.State().String(),
				Port:    path,
				Summary: p.Snapshot(),
			}
		}, feed)
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(runCtx, s.listen, mux)
		}()
	}

	var printed int
	sink := func(r poller.Reading) {
		fmt.Fprintf(out, "%.2f\n", units.ConvertTemperature(r.Celsius, s.units))
		if feed != nil {
			feed.Publish(r)
		}
		printed++
		if s.count > 0 && printed >= s.count {
			cancel()
		}
	}

	err := p.Run(runCtx, session, sink)
	cancel()
	if feed != nil {
		// ends open tail streams so the server can shut down promptly
		feed.Close()
	}
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	sum := p.Snapshot()
	log.Printf("%d readings, %d failed", sum.Readings, sum.Errors)
	return nil
}

func serveDebug(ctx context.Context, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("debug pages on http://%s/debug/", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start debug server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
