package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/treemana/koala/log"
	"github.com/treemana/koala/udp"
)

const (
	defaultAddress   = "0.0.0.0"
	defaultPort      = 53
	defaultTimeoutMS = 2000
	upstreamPort     = "53"
)

type Log struct {
	File    string `json:"file" yaml:"file" toml:"file"`
	STDOUT  bool   `json:"stdout" yaml:"stdout" toml:"stdout"`
	Verbose bool   `json:"verbose" yaml:"verbose" toml:"verbose"`
	Level   string `json:"level" yaml:"level" toml:"level"` // wins over verbose
	JSON    bool   `json:"json" yaml:"json" toml:"json"`
}

type Server struct {
	Address string `json:"address" yaml:"address" toml:"address"`
	Port    int    `json:"port" yaml:"port" toml:"port"`
}

type Statsd struct {
	Address    string  `json:"addr" yaml:"addr" toml:"addr"`
	SampleRate float32 `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
}

type Metrics struct {
	// statsd reporting is off when nil
	Statsd *Statsd `json:"statsd" yaml:"statsd" toml:"statsd"`
}

// Config is the proxy configuration file. Any of JSON, YAML and TOML is
// accepted, chosen by the file extension.
type Config struct {
	Log    Log    `json:"log" yaml:"log" toml:"log"`
	Server Server `json:"server" yaml:"server" toml:"server"`

	// Upstream is the resolver every query is forwarded to, host or host:port
	Upstream  string `json:"upstream" yaml:"upstream" toml:"upstream"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms" toml:"timeout_ms"`
	Capacity  int    `json:"capacity" yaml:"capacity" toml:"capacity"`

	Metrics   Metrics `json:"metrics" yaml:"metrics" toml:"metrics"`
	SentryDSN string  `json:"sentry_dsn" yaml:"sentry_dsn" toml:"sentry_dsn"`
	PidFile   string  `json:"pid_file" yaml:"pid_file" toml:"pid_file"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:       Log{STDOUT: true},
		Server:    Server{Address: defaultAddress, Port: defaultPort},
		TimeoutMS: defaultTimeoutMS,
		Capacity:  udp.MaxTransactions,
	}
}

// Load reads path over the defaults. The result still has to pass Validate
// once command line overrides are applied.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	c := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		err = dec.Decode(c)
	case ".toml":
		var md toml.MetaData
		if md, err = toml.Decode(string(raw), c); err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return c, nil
}

// Validate fills what can be defaulted and rejects the rest.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := log.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if ip := net.ParseIP(c.Server.Address); ip == nil {
		return fmt.Errorf("config: invalid server address %q", c.Server.Address)
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	if c.Upstream == "" {
		return errors.New("config: missing upstream")
	}
	if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
		c.Upstream = net.JoinHostPort(strings.Trim(c.Upstream, "[]"), upstreamPort)
	}

	if c.TimeoutMS == 0 {
		c.TimeoutMS = defaultTimeoutMS
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("config: invalid timeout %dms", c.TimeoutMS)
	}

	if c.Capacity == 0 {
		c.Capacity = udp.MaxTransactions
	}
	if c.Capacity < 0 || c.Capacity > udp.MaxTransactions {
		return fmt.Errorf("config: capacity must be in range [1, %d]", udp.MaxTransactions)
	}

	// metrics are optional; an empty statsd block is a mistake
	if s := c.Metrics.Statsd; s != nil {
		if s.Address == "" {
			return errors.New("config: missing metrics statsd address")
		}
		if s.SampleRate == 0 {
			s.SampleRate = 1
		}
		if s.SampleRate < 0 || s.SampleRate > 1 {
			return errors.New("config: statsd sample rate must be in range [0.0, 1.0]")
		}
	}

	return nil
}

// Bind is the listen address as host:port.
func (c *Config) Bind() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LogConfig keeps two days of 10MB files.
func (c *Config) LogConfig() log.Config {
	lc := log.Config{
		File:       c.Log.File,
		STDOUT:     c.Log.STDOUT,
		JsonFormat: c.Log.JSON,
		MaxAge:     2,
		MaxSize:    10,
		MaxBackups: 100,
	}
	if c.Log.Verbose {
		lc.Level = -1
	}
	if level, err := log.ParseLevel(c.Log.Level); c.Log.Level != "" && err == nil {
		lc.Level = level
	}
	return lc
}
