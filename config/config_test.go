package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemana/koala/udp"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "koala.json",
			content: `{
  "log": {"stdout": true, "verbose": true},
  "server": {"address": "127.0.0.1", "port": 5353},
  "upstream": "192.0.2.53",
  "timeout_ms": 1500,
  "metrics": {"statsd": {"addr": "127.0.0.1:8125", "sample_rate": 0.5}}
}`,
		},
		{
			name: "yaml",
			file: "koala.yml",
			content: `
log:
  stdout: true
  verbose: true
server:
  address: 127.0.0.1
  port: 5353
upstream: 192.0.2.53
timeout_ms: 1500
metrics:
  statsd:
    addr: 127.0.0.1:8125
    sample_rate: 0.5
`,
		},
		{
			name: "toml",
			file: "koala.toml",
			content: `
upstream = "192.0.2.53"
timeout_ms = 1500

[log]
stdout = true
verbose = true

[server]
address = "127.0.0.1"
port = 5353

[metrics.statsd]
addr = "127.0.0.1:8125"
sample_rate = 0.5
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(write(t, tt.file, tt.content))
			require.NoError(t, err)
			require.NoError(t, c.Validate())

			assert.Equal(t, "127.0.0.1:5353", c.Bind())
			assert.Equal(t, "192.0.2.53:53", c.Upstream)
			assert.Equal(t, 1500*time.Millisecond, c.Timeout())
			assert.Equal(t, udp.MaxTransactions, c.Capacity)
			require.NotNil(t, c.Metrics.Statsd)
			assert.Equal(t, float32(0.5), c.Metrics.Statsd.SampleRate)
			assert.Equal(t, int8(-1), c.LogConfig().Level)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(write(t, "koala.ini", "upstream=1.1.1.1"))
	assert.ErrorContains(t, err, "unsupported format")

	_, err = Load(write(t, "koala.json", `{"upstreams": "1.1.1.1"}`))
	assert.Error(t, err, "unknown json field")

	_, err = Load(write(t, "koala.yaml", "upstreams: 1.1.1.1\n"))
	assert.Error(t, err, "unknown yaml field")

	_, err = Load(write(t, "koala.toml", "upstreams = \"1.1.1.1\"\n"))
	assert.Error(t, err, "unknown toml key")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "no upstream", mutate: func(c *Config) { c.Upstream = "" }, wantErr: true},
		{name: "bad address", mutate: func(c *Config) { c.Server.Address = "localhost" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.TimeoutMS = -1 }, wantErr: true},
		{name: "capacity too large", mutate: func(c *Config) { c.Capacity = udp.MaxTransactions + 1 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "chatty" }, wantErr: true},
		{name: "statsd without address", mutate: func(c *Config) { c.Metrics.Statsd = &Statsd{} }, wantErr: true},
		{name: "statsd bad rate", mutate: func(c *Config) { c.Metrics.Statsd = &Statsd{Address: "127.0.0.1:8125", SampleRate: 2} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Upstream = "[2001:db8::53]:5353"
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0.0.0.0:53", c.Bind())
			assert.Equal(t, "[2001:db8::53]:5353", c.Upstream)
			assert.Equal(t, 2*time.Second, c.Timeout())
		})
	}
}

func TestValidateIPv6Upstream(t *testing.T) {
	c := Default()
	c.Upstream = "2001:db8::53"
	require.NoError(t, c.Validate())
	assert.Equal(t, "[2001:db8::53]:53", c.Upstream)
}

func TestLogConfigLevel(t *testing.T) {
	c := Default()
	assert.Equal(t, int8(0), c.LogConfig().Level)

	c.Log.Verbose = true
	assert.Equal(t, int8(-1), c.LogConfig().Level)

	c.Log.Level = "warn"
	assert.Equal(t, int8(1), c.LogConfig().Level)
}
