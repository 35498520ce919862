// Package config loads Conductor configuration from YAML files and the
// environment. Values are read once at construction; there is no hot reload.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log          LogConfig          `koanf:"log"`
	LLM          LLMConfig          `koanf:"llm"`
	Capabilities CapabilitiesConfig `koanf:"capabilities"`
	Pipeline     PipelineConfig     `koanf:"pipeline"`
	Discovery    DiscoveryConfig    `koanf:"discovery"`
	Search       SearchConfig       `koanf:"search"`
	Web          WebConfig          `koanf:"web"`
	Time         TimeConfig         `koanf:"time"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	MCP          MCPConfig          `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// LLMConfig describes the OpenAI-compatible endpoint backing the text agents.
// Models maps a capability name to its model, falling back to Model.
type LLMConfig struct {
	BaseURL     string            `koanf:"base_url"`
	APIKey      string            `koanf:"api_key"`
	Model       string            `koanf:"model"`
	Models      map[string]string `koanf:"models"`
	Temperature float64           `koanf:"temperature"`
}

// ModelFor returns the model configured for a capability.
func (c LLMConfig) ModelFor(capability string) string {
	if m, ok := c.Models[capability]; ok && strings.TrimSpace(m) != "" {
		return m
	}
	return c.Model
}

type CapabilitiesConfig struct {
	TimeoutSeconds  int            `koanf:"timeout_seconds"`
	TimeoutOverride map[string]int `koanf:"timeout_override"`
}

// Timeout returns the handle timeout for a capability.
func (c CapabilitiesConfig) Timeout(capability string) time.Duration {
	if secs, ok := c.TimeoutOverride[capability]; ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PipelineConfig struct {
	MaxInFlight int         `koanf:"max_in_flight"`
	Audit       AuditConfig `koanf:"audit"`
}

type AuditConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	Path   string `koanf:"path"`
}

// DiscoveryConfig wires the capability directory: static endpoints and
// a remote directory for lookups, plus announce/heartbeat publishing of
// this process's own capabilities under AdvertiseURL.
type DiscoveryConfig struct {
	Enabled          bool             `koanf:"enabled"`
	DirectoryURL     string           `koanf:"directory_url"`
	Token            string           `koanf:"token"`
	Announce         bool             `koanf:"announce"`
	AdvertiseURL     string           `koanf:"advertise_url"`
	HeartbeatSeconds int              `koanf:"heartbeat_seconds"`
	Static           []StaticEndpoint `koanf:"static"`
}

// StaticEndpoint is a fixed capability endpoint from configuration.
type StaticEndpoint struct {
	Name string `koanf:"name"`
	Kind string `koanf:"kind"`
	URL  string `koanf:"url"`
}

type SearchConfig struct {
	Provider   string `koanf:"provider"` // serper, brave
	APIKey     string `koanf:"api_key"`
	MaxResults int    `koanf:"max_results"`
}

type WebConfig struct {
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	MaxChars       int    `koanf:"max_chars"`
	UserAgent      string `koanf:"user_agent"`
}

type TimeConfig struct {
	NTPServer     string `koanf:"ntp_server"`
	Layout        string `koanf:"layout"`
	FallbackLocal bool   `koanf:"fallback_local"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type MCPConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// Load reads configuration with precedence defaults < file < environment.
// Environment keys use the CONDUCTOR_ prefix (CONDUCTOR_LLM_BASE_URL -> llm.base_url).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.base_url", "http://localhost:11434/v1")
	k.Set("llm.api_key", "ollama")
	k.Set("llm.model", "qwen2.5:latest")
	k.Set("llm.temperature", 0.7)

	k.Set("capabilities.timeout_seconds", 30)

	k.Set("pipeline.max_in_flight", 4)
	k.Set("pipeline.audit.driver", "memory")
	k.Set("pipeline.audit.path", "conductor_audit.db")

	k.Set("discovery.enabled", false)
	k.Set("discovery.heartbeat_seconds", 10)

	k.Set("search.provider", "serper")
	k.Set("search.max_results", 10)

	k.Set("web.timeout_seconds", 20)
	k.Set("web.max_chars", 8000)
	k.Set("web.user_agent", "Conductor/1.0")

	k.Set("time.ntp_server", "de.pool.ntp.org")
	k.Set("time.layout", "Monday, 02. January 2006, 15:04:05")
	k.Set("time.fallback_local", true)

	k.Set("telemetry.exporter", "stdout")

	k.Set("mcp.name", "Conductor MCP Server")
	k.Set("mcp.version", "1.0.0")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (CONDUCTOR_SEARCH_PROVIDER -> search.provider)
	if err := k.Load(env.Provider("CONDUCTOR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CONDUCTOR_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
