// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tkeycoin2/wirenode/core"
	"github.com/tkeycoin2/wirenode/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified, viper-loaded configuration for a node process. Its
// shape mirrors core.Config field-for-field (same dotted keys: listen.*,
// peers.seed, network.*, limits.*, workers.count, logging.*) so loading a
// file is a straight field copy into the type the protocol core actually
// consumes, via ToCore.
type Config struct {
	Listen struct {
		Transport string `mapstructure:"transport" json:"transport"`
		Host      string `mapstructure:"host" json:"host"`
		Port      int    `mapstructure:"port" json:"port"`
		TLSCert   string `mapstructure:"tls_cert" json:"tls_cert"`
		TLSKey    string `mapstructure:"tls_key" json:"tls_key"`
	} `mapstructure:"listen" json:"listen"`

	Peers struct {
		Seed []string `mapstructure:"seed" json:"seed"`
	} `mapstructure:"peers" json:"peers"`

	Network struct {
		Magic           uint32 `mapstructure:"magic" json:"magic"`
		ProtocolVersion int32  `mapstructure:"protocol_version" json:"protocol_version"`
		UserAgent       string `mapstructure:"user_agent" json:"user_agent"`
	} `mapstructure:"network" json:"network"`

	Limits struct {
		MaxPayload       uint32        `mapstructure:"max_payload" json:"max_payload"`
		MaxPeers         int           `mapstructure:"max_peers" json:"max_peers"`
		PingInterval     time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
		PongTimeout      time.Duration `mapstructure:"pong_timeout" json:"pong_timeout"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" json:"handshake_timeout"`
	} `mapstructure:"limits" json:"limits"`

	Workers struct {
		Count int `mapstructure:"count" json:"count"`
	} `mapstructure:"workers" json:"workers"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// ToCore copies the loaded configuration into a core.Config, the shape the
// protocol core actually takes as a constructor argument.
func (c *Config) ToCore() core.Config {
	var out core.Config
	out.Listen.Transport = c.Listen.Transport
	out.Listen.Host = c.Listen.Host
	out.Listen.Port = c.Listen.Port
	out.Listen.TLSCert = c.Listen.TLSCert
	out.Listen.TLSKey = c.Listen.TLSKey
	out.Peers.Seed = c.Peers.Seed
	out.Network.Magic = c.Network.Magic
	out.Network.ProtocolVersion = c.Network.ProtocolVersion
	out.Network.UserAgent = c.Network.UserAgent
	out.Limits.MaxPayload = c.Limits.MaxPayload
	out.Limits.MaxPeers = c.Limits.MaxPeers
	out.Limits.PingInterval = c.Limits.PingInterval
	out.Limits.PongTimeout = c.Limits.PongTimeout
	out.Limits.HandshakeTimeout = c.Limits.HandshakeTimeout
	out.Workers.Count = c.Workers.Count
	out.Logging.Level = c.Logging.Level
	out.Logging.File = c.Logging.File
	return out
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up overrides from environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the WIRENODE_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("WIRENODE_ENV", ""))
}
