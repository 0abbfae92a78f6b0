// Package version reports the rtsession build version.
// The variables can be set at build time using ldflags:
//
//	go build -ldflags "-X github.com/AltairaLabs/rtsession/runtime/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
	vcsRevisionKey = "vcs.revision"
	vcsModifiedKey = "vcs.modified"
)

// Build-time variables, overridden with -ldflags.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// GetVersion returns the current version string.
// Falls back to the module version from build info when not set via ldflags.
func GetVersion() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return devVersion
}

// Commit returns the short git commit the binary was built from, or "".
func Commit() string {
	if gitCommit != "" {
		return gitCommit
	}
	return buildSetting(vcsRevisionKey, func(v string) string {
		return v[:min(shortCommitLen, len(v))]
	})
}

func dirty() bool {
	return gitCommit == "" && buildSetting(vcsModifiedKey, nil) == "true"
}

func buildSetting(key string, transform func(string) string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key && setting.Value != "" {
			if transform != nil {
				return transform(setting.Value)
			}
			return setting.Value
		}
	}
	return ""
}

// GetVersionInfo returns the multi-line version banner printed by "rtchat version".
func GetVersionInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rtsession version %s", GetVersion())
	if commit := Commit(); commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", commit)
		if dirty() {
			b.WriteString(" (dirty)")
		}
	}
	if buildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", buildDate)
	}
	return b.String()
}

// GetBuildInfo returns version details as slog key-value pairs.
func GetBuildInfo() []any {
	attrs := []any{"version", GetVersion()}
	if commit := Commit(); commit != "" {
		attrs = append(attrs, "commit", commit)
	}
	if dirty() {
		attrs = append(attrs, "dirty", true)
	}
	if buildDate != "" {
		attrs = append(attrs, "built", buildDate)
	}
	return attrs
}
