package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/buslink/internal/protocol/session"
)

const (
	defaultHomeDir    = ".buslink"
	defaultConfigFile = "config.toml"
)

type tlsSection struct {
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileConfig struct {
	Home           string     `toml:"home"`
	SecurityMode   string     `toml:"security_mode"`
	PollInterval   string     `toml:"poll_interval"`
	PollLimit      int        `toml:"poll_limit"`
	RequestTimeout string     `toml:"request_timeout"`
	ClaimAttempts  int        `toml:"claim_attempts"`
	ClaimDelay     string     `toml:"claim_delay"`
	TLS            tlsSection `toml:"tls"`
}

// clientConfig is the resolved CLI configuration.
type clientConfig struct {
	Home    string
	Session session.Config
}

func defaultHome() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultHomeDir), nil
}

// resolveClientConfig loads path, or home/config.toml when path is empty and
// that file exists. A missing default file yields the built-in defaults.
func resolveClientConfig(path, home string) (clientConfig, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = filepath.Join(home, defaultConfigFile)
	}
	cfg, err := loadClientConfig(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return clientConfig{Home: home, Session: session.DefaultConfig()}, nil
		}
		return clientConfig{}, err
	}
	if cfg.Home == "" {
		cfg.Home = home
	}
	return cfg, nil
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := clientConfig{Session: session.DefaultConfig()}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load buslink config: %w", err)
	}

	if meta.IsDefined("home") {
		cfg.Home = expandHome(strings.TrimSpace(raw.Home))
	}

	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	if meta.IsDefined("poll_interval") {
		d, err := parsePositiveDuration("poll_interval", raw.PollInterval)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Session.PollInterval = d
	}

	if meta.IsDefined("poll_limit") {
		if raw.PollLimit <= 0 {
			return clientConfig{}, fmt.Errorf("poll_limit must be > 0")
		}
		cfg.Session.PollLimit = raw.PollLimit
	}

	if meta.IsDefined("request_timeout") {
		d, err := parsePositiveDuration("request_timeout", raw.RequestTimeout)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Session.RequestTimeout = d
	}

	if meta.IsDefined("claim_attempts") {
		if raw.ClaimAttempts <= 0 {
			return clientConfig{}, fmt.Errorf("claim_attempts must be > 0")
		}
		cfg.Session.Claim.MaxAttempts = raw.ClaimAttempts
	}

	if meta.IsDefined("claim_delay") {
		d, err := parsePositiveDuration("claim_delay", raw.ClaimDelay)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.Session.Claim.Backoff.InitialDelay = d
	}

	if meta.IsDefined("tls", "ca_file") {
		cfg.Session.TLS.CAFile = expandHome(strings.TrimSpace(raw.TLS.CAFile))
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	if _, err := cfg.Session.ClientTLSConfig(); err != nil {
		return clientConfig{}, fmt.Errorf("tls: %w", err)
	}
	return cfg, nil
}

func parsePositiveDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return d, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(dir, strings.TrimPrefix(path, "~"))
}
