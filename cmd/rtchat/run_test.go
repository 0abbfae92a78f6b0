package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/rtsession/pkg/config"
	"github.com/AltairaLabs/rtsession/runtime/tools"
	"github.com/AltairaLabs/rtsession/runtime/transport/webrtc"
	"github.com/AltairaLabs/rtsession/runtime/transport/websocket"
)

// newTestRunCmd returns a command carrying the run flags, isolated from rootCmd.
func newTestRunCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestLoadConfiguration_Flags(t *testing.T) {
	cmd := newTestRunCmd(t,
		"--endpoint", "https://example.test/session",
		"--transport", "websocket",
		"--modality", "voice",
	)
	v, err := newViper(cmd)
	require.NoError(t, err)

	cfg, err := loadConfiguration(v)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/session", cfg.Credentials.Endpoint)
	assert.Equal(t, config.TransportWebSocket, cfg.Transport.Kind)
	assert.Equal(t, "voice", cfg.Session.InitialModality)
}

func TestLoadConfiguration_Env(t *testing.T) {
	t.Setenv("RTCHAT_ENDPOINT", "https://env.test/session")
	t.Setenv("RTCHAT_METRICS_ADDR", ":9464")

	v, err := newViper(newTestRunCmd(t))
	require.NoError(t, err)

	cfg, err := loadConfiguration(v)
	require.NoError(t, err)
	assert.Equal(t, "https://env.test/session", cfg.Credentials.Endpoint)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadConfiguration_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
credentials:
  endpoint: https://file.test/session
session:
  model: from-file
`), 0o600))

	v, err := newViper(newTestRunCmd(t, "--config", path, "--model", "from-flag"))
	require.NoError(t, err)

	cfg, err := loadConfiguration(v)
	require.NoError(t, err)
	assert.Equal(t, "https://file.test/session", cfg.Credentials.Endpoint)
	assert.Equal(t, "from-flag", cfg.Session.Model)
}

func TestLoadConfiguration_Invalid(t *testing.T) {
	v, err := newViper(newTestRunCmd(t))
	require.NoError(t, err)

	_, err = loadConfiguration(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials.endpoint")
}

func TestNewNegotiator(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, webrtc.Name, newNegotiator(cfg).Name())

	cfg.Transport.Kind = config.TransportWebSocket
	assert.Equal(t, websocket.Name, newNegotiator(cfg).Name())
}

func TestBuiltinClockTool(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registerBuiltinTools(registry))

	out, err := registry.Invoke(context.Background(), "get_current_time", "call_1", json.RawMessage(`{"timezone":"UTC"}`))
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]string)["time"], "Z")

	_, err = registry.Invoke(context.Background(), "get_current_time", "call_2", json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "rtsession version")
}
