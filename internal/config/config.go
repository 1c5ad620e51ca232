// Package config reads the proxy settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Windscribe/goproxy-intercept"
	"github.com/Windscribe/goproxy-intercept/intercept"
)

// Prefix is prepended to every variable name.
const Prefix = "INTERCEPT_"

type Config struct {
	Listen            string `env:"LISTEN" envDefault:"127.0.0.1:8080"`
	TransparentListen string `env:"TRANSPARENT_LISTEN"`
	// TProxy makes the transparent listener a Linux TPROXY socket.
	TProxy        bool   `env:"TPROXY"`
	MetricsListen string `env:"METRICS_LISTEN"`
	RemoteListen  string `env:"REMOTE_LISTEN"`
	RemoteToken   string `env:"REMOTE_TOKEN"`

	DataFile    string `env:"DATA_FILE" envDefault:"intercept.db"`
	Record      bool   `env:"RECORD" envDefault:"true"`
	PluginDir   string `env:"PLUGIN_DIR" envDefault:"plugins"`
	HistoryFile string `env:"HISTORY_FILE"`
	Editor      string `env:"EDITOR"`

	// MITM terminates CONNECT tunnels so HTTPS can be intercepted. Without
	// CACert a throwaway authority is generated at startup.
	MITM    bool          `env:"MITM" envDefault:"true"`
	CACert  string        `env:"CA_CERT"`
	CAKey   string        `env:"CA_KEY"`
	CertTTL time.Duration `env:"CERT_TTL" envDefault:"1h"`

	InterceptRequests  bool          `env:"REQUESTS"`
	InterceptResponses bool          `env:"RESPONSES"`
	Timeout            time.Duration `env:"TIMEOUT"`
	TimeoutAction      string        `env:"TIMEOUT_ACTION" envDefault:"release"`

	DNSServer        string        `env:"DNS_SERVER"`
	DNSTimeout       time.Duration `env:"DNS_TIMEOUT" envDefault:"5s"`
	BasicAuth        string        `env:"BASIC_AUTH"`
	MaxConcurrent    int           `env:"MAX_CONCURRENT"`
	KeepAlivePeriod  time.Duration `env:"KEEPALIVE_PERIOD"`
	KeepProxyHeaders bool          `env:"KEEP_PROXY_HEADERS"`
	ErrorPages       bool          `env:"ERROR_PAGES" envDefault:"true"`

	Log Log `envPrefix:"LOG_"`
}

type Log struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"text"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"28"`
	Compress   bool   `env:"COMPRESS"`
}

// Load parses the environment. The result is not validated.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" && c.TransparentListen == "" {
		errs = append(errs, errors.New("nothing to listen on"))
	}
	if _, err := intercept.ParseTimeoutAction(c.TimeoutAction); err != nil {
		errs = append(errs, err)
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", c.Timeout))
	}
	if _, err := goproxy.ParseLoggingLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q, use text or json", c.Log.Format))
	}
	if c.BasicAuth != "" {
		if user, _, ok := strings.Cut(c.BasicAuth, ":"); !ok || user == "" {
			errs = append(errs, errors.New("basic auth must be user:password"))
		}
	}
	if (c.CACert == "") != (c.CAKey == "") {
		errs = append(errs, errors.New("CA certificate and key go together"))
	}
	if c.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("negative max concurrent requests %d", c.MaxConcurrent))
	}
	return errors.Join(errs...)
}

// Credentials splits BasicAuth. ok is false when auth is disabled.
func (c Config) Credentials() (user, passwd string, ok bool) {
	if c.BasicAuth == "" {
		return "", "", false
	}
	return strings.Cut(c.BasicAuth, ":")
}
