// ABOUTME: Tests for chaos-relay command helpers
// ABOUTME: Covers config path resolution, init rendering, and the color log handler

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chaos-relay/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("CHAOS_RELAY_CONFIG", "/etc/relay.toml")
		assert.Equal(t, "/etc/relay.toml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("CHAOS_RELAY_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, filepath.Join("/tmp/xdg", "chaos-relay", "relay.yaml"), getConfigPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("CHAOS_RELAY_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/relay")
		assert.Equal(t, filepath.Join("/home/relay", ".config", "chaos-relay", "relay.yaml"), getConfigPath())
	})
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	assert.Equal(t, filepath.Join("/tmp/data", "chaos-relay"), getDataPath())

	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/relay")
	assert.Equal(t, filepath.Join("/home/relay", ".local", "share", "chaos-relay"), getDataPath())
}

func TestRenderConfig_LoadsBack(t *testing.T) {
	data, err := renderConfig(initAnswers{
		WSURL:        "ws://chain.local:3000",
		APIURL:       "http://chain.local:3000/api",
		Name:         "DramaLlama",
		Personality:  "sassy, dramatic",
		Style:        "chaotic",
		Role:         "validator",
		Stake:        2500,
		DecisionMode: config.DecisionRules,
		DBPath:       filepath.Join(t.TempDir(), "relay.db"),
		StatusAddr:   "localhost:8090",
		LogLevel:     "debug",
		LogFormat:    "json",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("# chaos-relay configuration")))

	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DramaLlama", cfg.Agent.Name)
	assert.Equal(t, []string{"sassy", "dramatic"}, cfg.Agent.Personality)
	assert.Equal(t, int64(2500), cfg.Agent.StakeAmount)
	assert.Equal(t, config.DefaultReconnectDelay, cfg.Relay.ReconnectDelay)
	assert.Equal(t, config.DefaultRequestTimeout, cfg.Submission.RequestTimeout)
	assert.Equal(t, "localhost:8090", cfg.Status.HTTPAddr)
	assert.False(t, cfg.Tailscale.Enabled)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Nil(t, splitList(""))
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "localhost:8090", localAddr(":8090"))
	assert.Equal(t, "localhost:8090", localAddr("0.0.0.0:8090"))
	assert.Equal(t, "10.0.0.5:8090", localAddr("10.0.0.5:8090"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "stream").WithGroup("conn").Info("connected", "attempt", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF connected")
	assert.Contains(t, out, "component=stream")
	assert.Contains(t, out, "conn.attempt=3")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "queued", 2)

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
	assert.Contains(t, buf.String(), `"queued":2`)
}
