package main_test

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirwatch/dirwatch"
	main "github.com/dirwatch/dirwatch/cmd/dirwatch"
)

func TestMain_Run(t *testing.T) {
	t.Run("Help", func(t *testing.T) {
		err := main.NewMain().Run(context.Background(), nil)
		require.ErrorIs(t, err, flag.ErrHelp)
	})

	t.Run("UnknownCommand", func(t *testing.T) {
		err := main.NewMain().Run(context.Background(), []string{"bogus"})
		require.EqualError(t, err, "dirwatch bogus: unknown command")
	})
}

func TestOpenConfigFile(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "dirwatch.yml")
		require.NoError(t, os.WriteFile(configPath, []byte("history: 10\n"), 0o644))

		f, err := main.OpenConfigFile(configPath)
		require.NoError(t, err)
		defer f.Close()
	})

	t.Run("ErrConfigFileNotFound", func(t *testing.T) {
		_, err := main.OpenConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
		require.ErrorIs(t, err, main.ErrConfigFileNotFound)
	})
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "dirwatch.yml")
	config := `
poll-interval: 100ms
stop-timeout: 2s
backend: fsnotify
overflow-advisory: false
addr: ":9090"
history: 50
socket:
  path: ` + filepath.Join(dir, "dirwatch.sock") + `
  permissions: 0660
watches:
  - path: ` + dir + `
output:
  format: json
  stderr: true
nats:
  url: nats://127.0.0.1:4222
  subject: fs.events
hooks:
  - exec: "logger -t dirwatch"
    kinds: [created, deleted]
logging:
  level: debug
  type: json
  stderr: true
`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	c, err := main.ReadConfigFile(configPath, true)
	require.NoError(t, err)

	if got, want := *c.PollInterval, 100*time.Millisecond; got != want {
		t.Fatalf("PollInterval=%s, want %s", got, want)
	}
	if got, want := *c.StopTimeout, 2*time.Second; got != want {
		t.Fatalf("StopTimeout=%s, want %s", got, want)
	}
	assert.Equal(t, dirwatch.BackendFsnotify, c.Backend)
	assert.False(t, *c.OverflowAdvisory)
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, 50, c.History)

	// Unset socket fields keep their defaults.
	assert.True(t, c.Socket.Enabled)
	assert.Equal(t, filepath.Join(dir, "dirwatch.sock"), c.Socket.Path)
	assert.Equal(t, uint32(0o660), c.Socket.Permissions)

	require.Len(t, c.Watches, 1)
	assert.Equal(t, dir, c.Watches[0].Path)
	assert.Equal(t, main.OutputConfig{Format: dirwatch.FormatJSON, Stderr: true}, c.Output)

	require.NotNil(t, c.NATS)
	assert.Equal(t, "nats://127.0.0.1:4222", c.NATS.URL)
	assert.Equal(t, "fs.events", c.NATS.Subject)

	require.Len(t, c.Hooks, 1)
	assert.Equal(t, "logger -t dirwatch", c.Hooks[0].Exec)
	assert.Equal(t, []string{"created", "deleted"}, c.Hooks[0].Kinds)

	assert.Equal(t, main.LoggingConfig{Level: "debug", Type: "json", Stderr: true}, c.Logging)
}

func TestParseConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c, err := main.ParseConfig(strings.NewReader(""), false)
		require.NoError(t, err)

		if got, want := *c.PollInterval, dirwatch.DefaultPollInterval; got != want {
			t.Fatalf("PollInterval=%s, want %s", got, want)
		}
		if got, want := *c.StopTimeout, dirwatch.DefaultStopTimeout; got != want {
			t.Fatalf("StopTimeout=%s, want %s", got, want)
		}
		assert.True(t, *c.OverflowAdvisory)
		assert.Equal(t, dirwatch.BackendNative, c.Backend)
		assert.Equal(t, 1000, c.History)
		assert.Equal(t, dirwatch.DefaultSocketConfig(), c.Socket)
		assert.Equal(t, dirwatch.FormatText, c.Output.Format)
		assert.Nil(t, c.NATS)
	})

	t.Run("EmptyKeysKeepDefaults", func(t *testing.T) {
		c, err := main.ParseConfig(strings.NewReader("poll-interval:\nstop-timeout:\n"), false)
		require.NoError(t, err)
		assert.Equal(t, dirwatch.DefaultPollInterval, *c.PollInterval)
		assert.Equal(t, dirwatch.DefaultStopTimeout, *c.StopTimeout)
	})

	t.Run("ExpandEnv", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("DIRWATCH_TEST_DIR", dir)

		c, err := main.ParseConfig(strings.NewReader("watches:\n  - path: $DIRWATCH_TEST_DIR\n"), true)
		require.NoError(t, err)
		require.Len(t, c.Watches, 1)
		assert.Equal(t, dir, c.Watches[0].Path)
	})

	t.Run("NoExpandEnv", func(t *testing.T) {
		t.Setenv("DIRWATCH_TEST_SUBJECT", "expanded")

		c, err := main.ParseConfig(strings.NewReader("nats:\n  url: nats://localhost\n  subject: $DIRWATCH_TEST_SUBJECT\n"), false)
		require.NoError(t, err)
		assert.Equal(t, "$DIRWATCH_TEST_SUBJECT", c.NATS.Subject)
	})

	t.Run("RelativeWatchPath", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		wd, err := os.Getwd()
		require.NoError(t, err)

		c, err := main.ParseConfig(strings.NewReader("watches:\n  - path: inbox\n"), false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(wd, "inbox"), c.Watches[0].Path)
	})

	t.Run("HomeWatchPath", func(t *testing.T) {
		u, err := user.Current()
		if err != nil || u.HomeDir == "" {
			t.Skip("no home directory available")
		}

		c, err := main.ParseConfig(strings.NewReader("watches:\n  - path: ~/incoming\n"), false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(u.HomeDir, "incoming"), c.Watches[0].Path)
	})

	t.Run("ErrInvalidYAML", func(t *testing.T) {
		_, err := main.ParseConfig(strings.NewReader("watches: [\n"), false)
		require.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	for _, tt := range []struct {
		name  string
		yaml  string
		err   error
		field string
	}{
		{"ZeroPollInterval", "poll-interval: 0s", main.ErrInvalidPollInterval, "poll-interval"},
		{"LongPollInterval", "poll-interval: 1s", main.ErrInvalidPollInterval, "poll-interval"},
		{"NegativeStopTimeout", "stop-timeout: -1s", main.ErrInvalidStopTimeout, "stop-timeout"},
		{"Backend", "backend: kqueue", main.ErrInvalidBackend, "backend"},
		{"History", "history: -1", main.ErrInvalidHistory, "history"},
		{"SocketPath", "socket:\n  path: \"\"", main.ErrSocketPathRequired, "socket.path"},
		{"SocketPermissions", "socket:\n  permissions: 01777", main.ErrInvalidSocketPerms, "socket.permissions"},
		{"OutputFormat", "output:\n  format: xml", main.ErrInvalidOutputFormat, "output.format"},
		{"LogType", "logging:\n  type: logfmt", main.ErrInvalidLogType, "logging.type"},
		{"WatchPath", "watches:\n  - path: \"\"", main.ErrWatchPathRequired, "watches[0].path"},
		{"DuplicateWatch", "watches:\n  - path: /tmp/a\n  - path: /tmp/a", main.ErrDuplicateWatchPath, "watches[1].path"},
		{"NATSURL", "nats:\n  subject: x", main.ErrNATSURLRequired, "nats.url"},
		{"HookExec", "hooks:\n  - kinds: [created]", main.ErrHookExecRequired, "hooks[0].exec"},
		{"HookKind", "hooks:\n  - exec: \"true\"\n    kinds: [renamed]", main.ErrInvalidHookKind, "hooks[0].kinds"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := main.ParseConfig(strings.NewReader(tt.yaml), false)
			require.ErrorIs(t, err, tt.err)

			var verr *main.ConfigValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("DIRWATCH_CONFIG", "/etc/custom.yml")
	if got, want := main.DefaultConfigPath(), "/etc/custom.yml"; got != want {
		t.Fatalf("DefaultConfigPath()=%s, want %s", got, want)
	}
}
