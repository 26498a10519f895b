package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dirwatch/dirwatch"
	"github.com/dirwatch/dirwatch/internal"
)

// Build information.
var (
	Version = "(development build)"
)

// errStop is a terminal error for indicating program should quit.
var errStop = errors.New("stop")

// Sentinel errors for configuration validation
var (
	ErrInvalidPollInterval = errors.New("poll interval must be greater than 0 and less than 1s")
	ErrInvalidStopTimeout  = errors.New("stop timeout must be greater than 0")
	ErrInvalidBackend      = errors.New("backend must be native or fsnotify")
	ErrInvalidHistory      = errors.New("history must be >= 0")
	ErrInvalidOutputFormat = errors.New("output format must be text or json")
	ErrInvalidLogType      = errors.New("logging type must be text or json")
	ErrWatchPathRequired   = errors.New("watch path required")
	ErrDuplicateWatchPath  = errors.New("duplicate watch path")
	ErrHookExecRequired    = errors.New("hook exec required")
	ErrInvalidHookKind     = errors.New("hook kind must be created, modified, deleted, started, overflow, invalidated or error")
	ErrNATSURLRequired     = errors.New("nats url required")
	ErrInvalidSocketPerms  = errors.New("socket permissions must be between 0 and 0777")
	ErrSocketPathRequired  = errors.New("socket path required when socket is enabled")
	ErrConfigFileNotFound  = errors.New("config file not found")
)

// maxPollInterval is the exclusive upper bound on the engine's poll wait.
const maxPollInterval = time.Second

// ConfigValidationError wraps a validation error with additional context
type ConfigValidationError struct {
	Err   error
	Field string
	Value interface{}
}

func (e *ConfigValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %v (got %v)", e.Field, e.Err, e.Value)
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigValidationError) Unwrap() error {
	return e.Err
}

func main() {
	m := NewMain()
	if err := m.Run(context.Background(), os.Args[1:]); errors.Is(err, flag.ErrHelp) || errors.Is(err, errStop) {
		os.Exit(1)
	} else if err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}

// Main represents the main program execution.
type Main struct{}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{}
}

// Run executes the program.
func (m *Main) Run(ctx context.Context, args []string) (err error) {
	// Run the daemon if executing as a Windows service.
	if isService, err := isWindowsService(); err != nil {
		return err
	} else if isService {
		return runWindowsService(ctx)
	}

	// Extract command name.
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "watch":
		return NewWatchCommand().Run(ctx, args)
	case "serve":
		c := NewServeCommand()
		if err := c.ParseFlags(ctx, args); err != nil {
			return err
		}

		// Setup signal handler.
		signalCh := signalChan()

		if err := c.Run(ctx); err != nil {
			_ = c.Close(ctx)
			return err
		}

		// Wait for signal to stop program.
		select {
		case <-ctx.Done():
			slog.Info("context done, dirwatch shutting down")
		case <-signalCh:
			slog.Info("signal received, dirwatch shutting down")
		}

		// Gracefully close.
		if e := c.Close(ctx); e != nil && err == nil {
			err = e
		}
		slog.Info("dirwatch shut down")
		return err

	case "start":
		return (&StartCommand{}).Run(ctx, args)
	case "stop":
		return (&StopCommand{}).Run(ctx, args)
	case "status":
		return (&StatusCommand{}).Run(ctx, args)
	case "monitor":
		return (&MonitorCommand{}).Run(ctx, args)
	case "clear":
		return (&ClearCommand{}).Run(ctx, args)
	case "version":
		return (&VersionCommand{}).Run(ctx, args)
	default:
		if cmd == "" || cmd == "help" || strings.HasPrefix(cmd, "-") {
			m.Usage()
			return flag.ErrHelp
		}
		return fmt.Errorf("dirwatch %s: unknown command", cmd)
	}
}

// Usage prints the help screen to STDOUT.
func (m *Main) Usage() {
	fmt.Println(`
dirwatch is a tool for watching directories for file changes.

Usage:

	dirwatch <command> [arguments]

The commands are:

	watch        watches a single directory in the foreground
	serve        runs a daemon watching the configured directories
	start        starts watching a directory on a running daemon
	stop         stops watching a directory on a running daemon
	status       lists watches on a running daemon
	monitor      streams events from a running daemon
	clear        clears the event history of a running daemon
	version      prints the binary version
`[1:])
}

// Config represents a configuration file for the dirwatch daemon.
type Config struct {
	// Engine settings applied to every watch.
	PollInterval     *time.Duration `yaml:"poll-interval"`
	StopTimeout      *time.Duration `yaml:"stop-timeout"`
	Backend          string         `yaml:"backend"`
	OverflowAdvisory *bool          `yaml:"overflow-advisory"`

	// Bind address for serving metrics.
	Addr string `yaml:"addr"`

	// Number of events retained by the daemon for monitor replay.
	History int `yaml:"history"`

	// Control socket for the start, stop, status, monitor & clear commands.
	Socket dirwatch.SocketConfig `yaml:"socket"`

	// Directories watched when the daemon starts.
	Watches []*WatchConfig `yaml:"watches"`

	Output OutputConfig  `yaml:"output"`
	NATS   *NATSConfig   `yaml:"nats"`
	Hooks  []*HookConfig `yaml:"hooks"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// WatchConfig configures a single watched directory.
type WatchConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig configures where event lines are written.
type OutputConfig struct {
	Format string `yaml:"format"`
	Stderr bool   `yaml:"stderr"`
}

// NATSConfig configures the NATS event sink.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	Creds    string `yaml:"creds"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`
}

// HookConfig configures a command executed for each matching event.
type HookConfig struct {
	Exec  string   `yaml:"exec"`
	Kinds []string `yaml:"kinds"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Type   string `yaml:"type"`
	Stderr bool   `yaml:"stderr"`
}

// DefaultConfig returns a new instance of Config with defaults set.
func DefaultConfig() Config {
	defaultPollInterval := dirwatch.DefaultPollInterval
	defaultStopTimeout := dirwatch.DefaultStopTimeout
	defaultOverflowAdvisory := true
	return Config{
		PollInterval:     &defaultPollInterval,
		StopTimeout:      &defaultStopTimeout,
		Backend:          dirwatch.BackendNative,
		OverflowAdvisory: &defaultOverflowAdvisory,
		History:          1000,
		Socket:           dirwatch.DefaultSocketConfig(),
		Output:           OutputConfig{Format: dirwatch.FormatText},
	}
}

// Validate returns an error if config contains invalid settings.
func (c *Config) Validate() error {
	if c.PollInterval != nil && (*c.PollInterval <= 0 || *c.PollInterval >= maxPollInterval) {
		return &ConfigValidationError{
			Err:   ErrInvalidPollInterval,
			Field: "poll-interval",
			Value: *c.PollInterval,
		}
	}
	if c.StopTimeout != nil && *c.StopTimeout <= 0 {
		return &ConfigValidationError{
			Err:   ErrInvalidStopTimeout,
			Field: "stop-timeout",
			Value: *c.StopTimeout,
		}
	}

	switch c.Backend {
	case "", dirwatch.BackendNative, dirwatch.BackendFsnotify:
	default:
		return &ConfigValidationError{Err: ErrInvalidBackend, Field: "backend", Value: c.Backend}
	}

	if c.History < 0 {
		return &ConfigValidationError{Err: ErrInvalidHistory, Field: "history", Value: c.History}
	}

	if c.Socket.Enabled && c.Socket.Path == "" {
		return &ConfigValidationError{Err: ErrSocketPathRequired, Field: "socket.path"}
	}
	if c.Socket.Permissions > 0o777 {
		return &ConfigValidationError{
			Err:   ErrInvalidSocketPerms,
			Field: "socket.permissions",
			Value: fmt.Sprintf("%#o", c.Socket.Permissions),
		}
	}

	switch c.Output.Format {
	case "", dirwatch.FormatText, dirwatch.FormatJSON:
	default:
		return &ConfigValidationError{Err: ErrInvalidOutputFormat, Field: "output.format", Value: c.Output.Format}
	}

	switch c.Logging.Type {
	case "", "text", "json":
	default:
		return &ConfigValidationError{Err: ErrInvalidLogType, Field: "logging.type", Value: c.Logging.Type}
	}

	seen := make(map[string]struct{}, len(c.Watches))
	for i, wc := range c.Watches {
		field := fmt.Sprintf("watches[%d].path", i)
		if wc == nil || wc.Path == "" {
			return &ConfigValidationError{Err: ErrWatchPathRequired, Field: field}
		}
		if _, ok := seen[wc.Path]; ok {
			return &ConfigValidationError{Err: ErrDuplicateWatchPath, Field: field, Value: wc.Path}
		}
		seen[wc.Path] = struct{}{}
	}

	if c.NATS != nil && c.NATS.URL == "" {
		return &ConfigValidationError{Err: ErrNATSURLRequired, Field: "nats.url"}
	}

	for i, hc := range c.Hooks {
		if hc == nil || strings.TrimSpace(hc.Exec) == "" {
			return &ConfigValidationError{Err: ErrHookExecRequired, Field: fmt.Sprintf("hooks[%d].exec", i)}
		}
		for _, kind := range hc.Kinds {
			if _, err := dirwatch.ParseKind(kind); err != nil {
				return &ConfigValidationError{
					Err:   ErrInvalidHookKind,
					Field: fmt.Sprintf("hooks[%d].kinds", i),
					Value: kind,
				}
			}
		}
	}

	return nil
}

// Notifier returns the notifier for the configured backend.
func (c *Config) Notifier() (*dirwatch.OSNotifier, error) {
	return dirwatch.NewOSNotifier(c.Backend)
}

// OpenConfigFile opens a configuration file and returns a reader.
// Expands the filename path if needed.
func OpenConfigFile(filename string) (io.ReadCloser, error) {
	// Expand filename, if necessary.
	filename, err := expand(filename)
	if err != nil {
		return nil, err
	}

	// Open configuration file.
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
	} else if err != nil {
		return nil, err
	}

	return f, nil
}

// ReadConfigFile unmarshals config from filename. Expands path if needed.
// If expandEnv is true then environment variables are expanded in the config.
func ReadConfigFile(filename string, expandEnv bool) (Config, error) {
	f, err := OpenConfigFile(filename)
	if err != nil {
		return DefaultConfig(), err
	}
	defer f.Close()

	return ParseConfig(f, expandEnv)
}

// ParseConfig unmarshals config from a reader.
// If expandEnv is true then environment variables are expanded in the config.
func ParseConfig(r io.Reader, expandEnv bool) (_ Config, err error) {
	config := DefaultConfig()

	// Read configuration.
	buf, err := io.ReadAll(r)
	if err != nil {
		return config, err
	}

	// Expand environment variables, if enabled.
	if expandEnv {
		buf = []byte(os.ExpandEnv(string(buf)))
	}

	// Save defaults before unmarshaling
	defaultPollInterval := config.PollInterval
	defaultStopTimeout := config.StopTimeout
	defaultOverflowAdvisory := config.OverflowAdvisory

	if err := yaml.Unmarshal(buf, &config); err != nil {
		return config, err
	}

	// Restore defaults if they were overwritten with nil by empty YAML keys
	if config.PollInterval == nil {
		config.PollInterval = defaultPollInterval
	}
	if config.StopTimeout == nil {
		config.StopTimeout = defaultStopTimeout
	}
	if config.OverflowAdvisory == nil {
		config.OverflowAdvisory = defaultOverflowAdvisory
	}

	// Normalize paths.
	for _, wc := range config.Watches {
		if wc == nil || wc.Path == "" {
			continue
		}
		if wc.Path, err = expand(wc.Path); err != nil {
			return config, err
		}
	}
	if config.Socket.Path != "" {
		if config.Socket.Path, err = expand(config.Socket.Path); err != nil {
			return config, err
		}
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return config, err
	}

	// Configure logging.
	logOutput := os.Stdout
	if config.Logging.Stderr {
		logOutput = os.Stderr
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	initLog(logOutput, config.Logging.Level, config.Logging.Type)

	return config, nil
}

// DefaultConfigPath returns the default config path.
func DefaultConfigPath() string {
	if v := os.Getenv("DIRWATCH_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

func registerConfigFlag(fs *flag.FlagSet) (configPath *string, noExpandEnv *bool) {
	return fs.String("config", "", "config path"),
		fs.Bool("no-expand-env", false, "do not expand env vars in config")
}

// expand returns an absolute path for s.
func expand(s string) (string, error) {
	// Just expand to absolute path if there is no home directory prefix.
	prefix := "~" + string(os.PathSeparator)
	if s != "~" && !strings.HasPrefix(s, prefix) {
		return filepath.Abs(s)
	}

	// Look up home directory.
	u, err := user.Current()
	if err != nil {
		return "", err
	} else if u.HomeDir == "" {
		return "", fmt.Errorf("cannot expand path %s, no home directory available", s)
	}

	// Return path with tilde replaced by the home directory.
	if s == "~" {
		return u.HomeDir, nil
	}
	return filepath.Join(u.HomeDir, strings.TrimPrefix(s, prefix)), nil
}

func initLog(w io.Writer, level, typ string) {
	logOptions := slog.HandlerOptions{
		Level:       parseLogLevel(level),
		ReplaceAttr: internal.ReplaceAttr,
	}

	var logHandler slog.Handler
	switch typ {
	case "json":
		logHandler = slog.NewJSONHandler(w, &logOptions)
	default:
		logHandler = slog.NewTextHandler(w, &logOptions)
	}

	// Set global default logger.
	slog.SetDefault(slog.New(logHandler))
}

// parseLogLevel returns the level named by LOG_LEVEL or level. Unknown names
// fall back to INFO.
func parseLogLevel(level string) slog.Level {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}

	switch strings.ToUpper(level) {
	case "TRACE":
		return internal.LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
