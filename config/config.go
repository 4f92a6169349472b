// Package config loads qft settings from a TOML file, a .env file and QFT_*
// environment variables, and configures logrus from them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opd-ai/qft/codec"
	"github.com/opd-ai/qft/discovery"
	"github.com/opd-ai/qft/remote"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "QFT"

// Config holds every setting the CLI reads.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	BufferSize    int    `mapstructure:"buffer_size"`
	DialTimeoutMs int    `mapstructure:"dial_timeout_ms"`
	Compression   string `mapstructure:"compression"`

	MDNSTimeoutMs int    `mapstructure:"mdns_timeout_ms"`
	IPVersion     string `mapstructure:"ip_version"`

	SSHPort                  int    `mapstructure:"ssh_port"`
	SSHUser                  string `mapstructure:"ssh_user"`
	SSHIdentityFile          string `mapstructure:"ssh_identity_file"`
	SSHKnownHosts            string `mapstructure:"ssh_known_hosts"`
	SSHInsecureIgnoreHostKey bool   `mapstructure:"ssh_insecure_ignore_host_key"`
	StartPort                int    `mapstructure:"start_port"`
	EndPort                  int    `mapstructure:"end_port"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Load reads configPath, or qft.toml from $HOME/.config/qft or the working
// directory when configPath is empty. A missing default file is not an
// error; a missing explicit file is. A .env file in the working directory is
// loaded into the environment first.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load() // ignore error if .env not found

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	v, err := initViper(configPath, filepath.Join(home, ".config", "qft"), "qft", "toml", EnvPrefix)
	if err != nil {
		return nil, err
	}
	setDefaults(v, home)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.SSHIdentityFile = expandPath(cfg.SSHIdentityFile)
	cfg.SSHKnownHosts = expandPath(cfg.SSHKnownHosts)
	cfg.LogFile = expandPath(cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in settings without reading files or the
// environment.
func Default() *Config {
	home, _ := os.UserHomeDir()
	v := viper.New()
	setDefaults(v, home)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")
	v.SetDefault("buffer_size", 64*1024)
	v.SetDefault("dial_timeout_ms", 10_000)
	v.SetDefault("compression", "none")
	v.SetDefault("mdns_timeout_ms", 2_000)
	v.SetDefault("ip_version", "v4")
	v.SetDefault("ssh_port", remote.DefaultSSHPort)
	v.SetDefault("ssh_user", currentUser())
	v.SetDefault("ssh_identity_file", "")
	v.SetDefault("ssh_known_hosts", knownHostsDefault(home))
	v.SetDefault("ssh_insecure_ignore_host_key", false)
	v.SetDefault("start_port", int(remote.DynamicPortStart))
	v.SetDefault("end_port", int(remote.DynamicPortEnd))
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Validate checks the values that are parsed later.
func (c *Config) Validate() error {
	if _, err := c.CompressionMode(); err != nil {
		return err
	}
	if _, err := discovery.ParseIPVersion(c.IPVersion); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	for name, port := range map[string]int{"ssh_port": c.SSHPort, "start_port": c.StartPort, "end_port": c.EndPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s %d is not a TCP port", name, port)
		}
	}
	if err := c.PortRange().Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// CompressionMode parses Compression. Unsupported but recognized modes parse
// successfully; the transfer rejects them.
func (c *Config) CompressionMode() (codec.Mode, error) {
	return codec.ParseMode(c.Compression)
}

// IPVersionValue parses IPVersion.
func (c *Config) IPVersionValue() discovery.IPVersion {
	v, _ := discovery.ParseIPVersion(c.IPVersion)
	return v
}

// PortRange returns the remote port negotiation range.
func (c *Config) PortRange() remote.PortRange {
	return remote.PortRange{Start: uint16(c.StartPort), End: uint16(c.EndPort)}
}

// DialTimeout returns the connect timeout, zero meaning none.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// MDNSTimeout returns the mDNS lookup timeout.
func (c *Config) MDNSTimeout() time.Duration {
	return time.Duration(c.MDNSTimeoutMs) * time.Millisecond
}

// SSHConfig builds the SSH settings for host. user overrides SSHUser when set.
func (c *Config) SSHConfig(host, user string) remote.SSHConfig {
	if user == "" {
		user = c.SSHUser
	}
	return remote.SSHConfig{
		Host:                  host,
		Port:                  uint16(c.SSHPort),
		User:                  user,
		IdentityFile:          c.SSHIdentityFile,
		KnownHostsFile:        c.SSHKnownHosts,
		InsecureIgnoreHostKey: c.SSHInsecureIgnoreHostKey,
		Timeout:               c.DialTimeout(),
	}
}

func currentUser() string {
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if u := os.Getenv(key); u != "" {
			return u
		}
	}
	return ""
}

func knownHostsDefault(home string) string {
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}
