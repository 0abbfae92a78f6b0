package logger

import (
	"log/slog"
	"strings"
	"sync"
)

// ModuleConfig holds per-package log levels. Names are dotted and hierarchical:
// a level set for "runtime.transport" also applies to "runtime.transport.webrtc"
// unless that package has its own entry.
type ModuleConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	modules      map[string]slog.Level
}

// NewModuleConfig creates a ModuleConfig with the given default level.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{
		defaultLevel: defaultLevel,
		modules:      make(map[string]slog.Level),
	}
}

// SetModuleLevel sets the level for module and its children.
func (m *ModuleConfig) SetModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[module] = level
}

// SetDefaultLevel sets the level used for modules with no entry.
func (m *ModuleConfig) SetDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

// LevelFor returns the level of the most specific entry covering module.
func (m *ModuleConfig) LevelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name := module; name != ""; {
		if level, ok := m.modules[name]; ok {
			return level
		}
		dot := strings.LastIndex(name, ".")
		if dot == -1 {
			break
		}
		name = name[:dot]
	}
	return m.defaultLevel
}

// MinLevel returns the lowest level any module is configured to log at.
func (m *ModuleConfig) MinLevel() slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowest := m.defaultLevel
	for _, level := range m.modules {
		if level < lowest {
			lowest = level
		}
	}
	return lowest
}

func (m *ModuleConfig) empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.modules) == 0
}

// LoggingConfigSpec is the logging section of the application config.
// It is declared here so pkg/config can hand it over without an import cycle.
type LoggingConfigSpec struct {
	DefaultLevel string
	Format       string // "json" or "text"
	CommonFields map[string]string
	Modules      []ModuleLoggingSpec
}

// ModuleLoggingSpec overrides the level for one package.
type ModuleLoggingSpec struct {
	Name  string
	Level string
}

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure rebuilds DefaultLogger from cfg. A handler installed with SetLogger is kept.
func Configure(cfg *LoggingConfigSpec) error {
	if cfg == nil {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	if customHandler != nil {
		return nil
	}

	defaultLevel := slog.LevelInfo
	if cfg.DefaultLevel != "" {
		defaultLevel = ParseLevel(cfg.DefaultLevel)
	}

	commonFields := make([]slog.Attr, 0, len(cfg.CommonFields))
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	moduleConfig := NewModuleConfig(defaultLevel)
	for _, mod := range cfg.Modules {
		moduleConfig.SetModuleLevel(mod.Name, ParseLevel(mod.Level))
	}

	opts := &slog.HandlerOptions{Level: moduleConfig.MinLevel()}
	var base slog.Handler
	if strings.EqualFold(cfg.Format, FormatJSON) {
		base = slog.NewJSONHandler(logOutput, opts)
	} else {
		base = slog.NewTextHandler(logOutput, opts)
	}

	var handler slog.Handler
	if moduleConfig.empty() {
		handler = NewContextHandler(base, commonFields...)
	} else {
		handler = NewModuleHandler(base, moduleConfig, commonFields...)
	}
	DefaultLogger = slog.New(handler)
	slog.SetDefault(DefaultLogger)
	return nil
}
