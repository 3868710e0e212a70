package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// config is the on-disk TOML shape for cfdohproxy. Grounded on the
// teacher's cmd/routedns config.go, trimmed to the single listener, single
// upstream, single donor shape this proxy needs instead of the teacher's
// graph of listeners/resolvers/groups/routers.
type config struct {
	Listen string

	Upstream     string
	QueryTimeout int `toml:"query-timeout"`

	CA        string
	ClientCrt string `toml:"client-crt"`
	ClientKey string `toml:"client-key"`

	NoTLS     bool   `toml:"no-tls"`
	ServerCrt string `toml:"server-crt"`
	ServerKey string `toml:"server-key"`

	TrustedProxy string `toml:"trusted-proxy"`

	Donor string

	CacheSize int  `toml:"cache-size"`
	CacheTTL  int  `toml:"cache-max-ttl"`
	Coalesce  bool `toml:"coalesce-upstream-requests"`

	QueryLogFile   string `toml:"query-log-file"`
	QueryLogFormat string `toml:"query-log-format"`

	Syslog        bool
	SyslogNetwork string `toml:"syslog-network"`
	SyslogAddress string `toml:"syslog-address"`
	SyslogTag     string `toml:"syslog-tag"`
}

func defaultConfig() config {
	return config{
		Listen:         ":443",
		Upstream:       defaultUpstreamURL,
		Donor:          defaultDonorName,
		QueryLogFormat: "text",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if _, err := toml.Decode(string(b), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
