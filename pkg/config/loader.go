package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, schema-validates and parses the configuration file at filename.
// Fields the file omits keep their Default values. Callers apply Overrides and
// then call Validate.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// Parse schema-validates and parses a configuration document.
func Parse(data []byte) (*Config, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Overrides carries values from flags and the environment. Empty fields leave
// the configuration unchanged.
type Overrides struct {
	CredentialsEndpoint string
	Transport           string
	TransportURL        string
	Modality            string
	Model               string
	LogLevel            string
	LogFormat           string
	MetricsAddr         string
	TelemetryEndpoint   string
}

// Apply copies the non-empty overrides into c.
func (o Overrides) Apply(c *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Credentials.Endpoint, o.CredentialsEndpoint)
	set(&c.Transport.Kind, o.Transport)
	set(&c.Transport.URL, o.TransportURL)
	set(&c.Session.InitialModality, o.Modality)
	set(&c.Session.Model, o.Model)
	set(&c.Logging.DefaultLevel, o.LogLevel)
	set(&c.Logging.Format, o.LogFormat)
	set(&c.Metrics.Addr, o.MetricsAddr)
	set(&c.Telemetry.Endpoint, o.TelemetryEndpoint)
}
