package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/AltairaLabs/rtsession/pkg/config"
	"github.com/AltairaLabs/rtsession/runtime/logger"
)

// Flag names double as viper keys; RTCHAT_<NAME> overrides each of them.
const (
	flagConfig      = "config"
	flagEndpoint    = "endpoint"
	flagTransport   = "transport"
	flagURL         = "url"
	flagModality    = "modality"
	flagModel       = "model"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagMetricsAddr = "metrics-addr"
	flagOTLP        = "otlp-endpoint"

	envPrefix = "RTCHAT"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a session and chat from the terminal",
	Long: `Start a realtime session. Type a line to send it as a user turn.

Commands:
  /voice                     switch to voice (microphone on)
  /text                      switch to text only (microphone released)
  /gate on|off               enable or disable microphone gating
  /threshold <mic> <remote>  set the gate thresholds in dBFS
  /stop                      disconnect
  /start                     connect again (also restarts a failed session)
  /status                    print the session state
  /quit                      exit`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSession(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd.Flags())
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.StringP(flagConfig, "c", "", "Configuration file path (YAML)")
	fs.String(flagEndpoint, "", "Credential endpoint URL")
	fs.String(flagTransport, "", "Transport: webrtc or websocket")
	fs.String(flagURL, "", "Realtime endpoint URL")
	fs.StringP(flagModality, "m", "", "Initial modality: text or voice")
	fs.String(flagModel, "", "Realtime model")
	fs.String(flagLogLevel, "", "Log level: trace, debug, info, warn, error")
	fs.String(flagLogFormat, "", "Log format: text or json")
	fs.String(flagMetricsAddr, "", "Serve Prometheus metrics on this address")
	fs.String(flagOTLP, "", "Export traces to this OTLP/HTTP endpoint")
}

// newViper binds the run flags and RTCHAT_* environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// loadConfiguration resolves the configuration: file (if any), then
// environment and flags.
func loadConfiguration(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := v.GetString(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	config.Overrides{
		CredentialsEndpoint: v.GetString(flagEndpoint),
		Transport:           v.GetString(flagTransport),
		TransportURL:        v.GetString(flagURL),
		Modality:            v.GetString(flagModality),
		Model:               v.GetString(flagModel),
		LogLevel:            v.GetString(flagLogLevel),
		LogFormat:           v.GetString(flagLogFormat),
		MetricsAddr:         v.GetString(flagMetricsAddr),
		TelemetryEndpoint:   v.GetString(flagOTLP),
	}.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSession(cmd *cobra.Command) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfiguration(v)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.ToLogger()); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetVerbose(true)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audioDev, err := openAudio(cfg.Format())
	if err != nil {
		logger.Warn("Audio devices unavailable, voice mode disabled", "error", err)
	}

	app, err := newApp(ctx, cfg, audioDev)
	if err != nil {
		return err
	}
	defer app.Close()

	out := &syncWriter{w: cmd.OutOrStdout()}
	app.Subscribe(newPrinter(out).Handle)

	if err := app.ctrl.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Connecting... type a message, or /quit to exit.")

	err = newREPL(app.ctrl, out).Run(ctx, cmd.InOrStdin())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
