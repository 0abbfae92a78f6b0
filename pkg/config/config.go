// Package config provides configuration management for rtchat and other
// embedders of the realtime session runtime.
//
// A configuration file is a single YAML document with one section per concern:
//   - session: model, instructions, voice, initial modality and connection timing
//   - credentials: the ephemeral credential endpoint and cache TTL
//   - transport: webrtc or websocket, endpoint URL and ICE servers
//   - gate and audio: microphone gating thresholds and the capture format
//   - logging, metrics, telemetry: the ambient observability stack
//
// Durations are Go duration strings ("300ms", "15s"). Missing fields keep the
// values from Default. The package is organized into:
//   - types.go: Config and its sections
//   - loader.go: Load, Parse and environment overrides
//   - schema_validator.go: JSON schema validation of the raw document
//   - validator.go: semantic validation
//   - convert.go: conversion into runtime options
package config
