// Package config loads finger's configuration from environment variables,
// a YAML file, and built-in defaults, using Viper.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/jasonzhangf/finger/internal/logger"
)

// Config holds every configuration section the daemon needs at startup.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Events    EventsConfig    `mapstructure:"events"`
	Logging   logger.Config   `mapstructure:"logging"`
	FingerHome string         `mapstructure:"fingerHome"`
	Gateways  GatewaysConfig  `mapstructure:"gateways"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Retry     RetryConfig     `mapstructure:"retry"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

// ServerConfig configures the HTTP control plane and WebSocket listener.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// EventsConfig selects and configures the Message Hub / Event Bus transport.
type EventsConfig struct {
	Transport    string `mapstructure:"transport"` // "memory" or "nats"
	NATSURL      string `mapstructure:"natsUrl"`
	HistorySize  int    `mapstructure:"historySize"`
	QueueCapacity int   `mapstructure:"queueCapacity"`
}

// GatewaysConfig configures the gateway subprocess supervisor.
type GatewaysConfig struct {
	ManifestDir      string `mapstructure:"manifestDir"`
	AckTimeoutMs     int    `mapstructure:"ackTimeoutMs"`
	RequestTimeoutMs int    `mapstructure:"requestTimeoutMs"`
}

// QuotaConfig configures agent-runtime default quota.
type QuotaConfig struct {
	Default int `mapstructure:"default"`
}

// MCPConfig configures the Tool Registry's MCP server, exposing every
// registered tool to MCP clients (Claude Desktop, Cursor, Codex) over
// SSE and Streamable HTTP.
type MCPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	AgentID string `mapstructure:"agentId"`
}

// RetryConfig configures the Error Handler's exponential backoff.
type RetryConfig struct {
	BaseDelayMs int     `mapstructure:"baseDelayMs"`
	Multiplier  float64 `mapstructure:"multiplier"`
	MaxDelayMs  int     `mapstructure:"maxDelayMs"`
	MaxRetries  int     `mapstructure:"maxRetries"`
}

// Load reads configuration from (in increasing precedence) built-in
// defaults, a YAML file at configPath (if non-empty and present), and
// FINGER_-prefixed environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FINGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("events.transport", "memory")
	v.SetDefault("events.historySize", 1000)
	v.SetDefault("events.queueCapacity", 10000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("fingerHome", "~/.finger")

	v.SetDefault("gateways.manifestDir", "~/.finger/gateways")
	v.SetDefault("gateways.ackTimeoutMs", 5000)
	v.SetDefault("gateways.requestTimeoutMs", 60000)

	v.SetDefault("quota.default", 1)

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.port", 8421)
	v.SetDefault("mcp.agentId", "mcp-client")

	v.SetDefault("retry.baseDelayMs", 1000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.maxDelayMs", 60000)
	v.SetDefault("retry.maxRetries", 10)
}
