package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pms/internal/config"
	"github.com/banshee-data/pms/internal/monitoring"
	"github.com/banshee-data/pms/internal/reader"
	"github.com/banshee-data/pms/internal/sensor"
	"github.com/banshee-data/pms/internal/timeutil"
	"github.com/banshee-data/pms/internal/transport"
)

// transportFunc opens the link to a sensor.
type transportFunc func(s *sensor.Sensor, path string, timeout time.Duration) transport.Transport

func serialTransport(s *sensor.Sensor, path string, timeout time.Duration) transport.Transport {
	return transport.NewSerial(path, transport.PortOptions{BaudRate: s.Baud}, timeout)
}

// secondsValue is a duration flag that also takes a plain number of seconds.
type secondsValue time.Duration

func (v *secondsValue) String() string { return time.Duration(*v).String() }
func (v *secondsValue) Type() string   { return "seconds" }

func (v *secondsValue) Set(s string) error {
	d, err := config.ParseSeconds(s)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("must be non-negative, got %s", d)
	}
	*v = secondsValue(d)
	return nil
}

// app carries the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	sensorName string
	port       string
	interval   time.Duration
	samples    int
	maxRetries int
	timeout    time.Duration
	debug      bool
	jsonLogs   bool

	cfg    *config.Config
	logger *slog.Logger

	newTransport transportFunc
	clock        timeutil.Clock
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:       stdout,
		stderr:       stderr,
		newTransport: serialTransport,
		clock:        timeutil.RealClock{},
	}
}

func (a *app) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "JSON config file (default "+config.DefaultConfigPath+" when present)")
	f.StringVarP(&a.sensorName, "sensor", "m", "PMSx003", "sensor model or alias")
	f.StringVarP(&a.port, "port", "s", "/dev/ttyUSB0", "serial port")
	a.interval, a.timeout = 60*time.Second, 5*time.Second
	f.VarP((*secondsValue)(&a.interval), "interval", "i", "seconds between samples, or a duration like 2m")
	f.IntVarP(&a.samples, "samples", "n", 0, "stop after this many samples (0 reads forever)")
	f.IntVar(&a.maxRetries, "max-retries", -1, "give up after this many failed reads (negative retries forever)")
	f.Var((*secondsValue)(&a.timeout), "timeout", "serial read timeout in seconds, or a duration like 500ms")
	f.BoolVar(&a.debug, "debug", false, "print debug messages, including raw sensor answers")
	f.BoolVar(&a.jsonLogs, "log-json", false, "write logs as JSON")
}

// setup loads the config file, applies the flags that were set on the
// command line and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("sensor") {
		cfg.Sensor = config.Ptr(a.sensorName)
	}
	if flags.Changed("port") {
		cfg.Port = config.Ptr(a.port)
	}
	if flags.Changed("interval") {
		cfg.Interval = config.Ptr(a.interval.String())
	}
	if flags.Changed("samples") {
		cfg.Samples = config.Ptr(a.samples)
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = config.Ptr(a.maxRetries)
	}
	if flags.Changed("timeout") {
		cfg.Timeout = config.Ptr(a.timeout.String())
	}
	if a.debug {
		cfg.LogLevel = config.Ptr("debug")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := monitoring.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		return err
	}
	a.logger = monitoring.NewLogger(a.stderr, level, !a.jsonLogs)
	monitoring.SetLogger(monitoring.Printf(a.logger))
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); errors.Is(err, fs.ErrNotExist) {
			return config.Empty(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadConfig(path)
}

func (a *app) sensor() (*sensor.Sensor, error) {
	return sensor.Lookup(a.cfg.GetSensor())
}

// reader builds a session for the configured sensor and port.
func (a *app) reader() (*reader.Reader, error) {
	s, err := a.sensor()
	if err != nil {
		return nil, err
	}
	port := a.newTransport(s, a.cfg.GetPort(), a.cfg.GetTimeout())
	return reader.New(s, port,
		reader.WithInterval(a.cfg.GetInterval()),
		reader.WithSamples(a.cfg.GetSamples()),
		reader.WithMaxRetries(a.cfg.GetMaxRetries()),
		reader.WithClock(a.clock),
		reader.WithLogger(a.logger),
	), nil
}

func (a *app) printf(format string, v ...any) {
	fmt.Fprintf(a.stdout, format, v...)
}
