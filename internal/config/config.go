package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RelayConfig configures the in-memory development relay.
type RelayConfig struct {
	Name        string      `toml:"name"`
	Addr        string      `toml:"addr"`
	PublicURL   string      `toml:"public_url"`
	OfferToken  string      `toml:"offer_token"`
	CorsOrigins []string    `toml:"cors_origins"`
	PairTTL     string      `toml:"pair_ttl"`
	InboxLimit  int         `toml:"inbox_limit"`
	Push        PushSection `toml:"push"`
}

type PushSection struct {
	Enabled        bool   `toml:"enabled"`
	VAPIDPublicKey string `toml:"vapid_public_key"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Name:       "devrelay",
		Addr:       ":8787",
		PairTTL:    "10m",
		InboxLimit: 500,
	}
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// WithDefaults fills empty fields from DefaultRelayConfig.
func (c RelayConfig) WithDefaults() RelayConfig {
	def := DefaultRelayConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = def.Addr
	}
	if strings.TrimSpace(c.PairTTL) == "" {
		c.PairTTL = def.PairTTL
	}
	if c.InboxLimit == 0 {
		c.InboxLimit = def.InboxLimit
	}
	return c
}

// PairTTLDuration parses PairTTL. ValidateRelayConfig guarantees it parses.
func (c RelayConfig) PairTTLDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.PairTTL))
	if err != nil {
		return 0
	}
	return d
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("relay config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	ttl, err := time.ParseDuration(strings.TrimSpace(cfg.PairTTL))
	if err != nil {
		return fmt.Errorf("relay config pair_ttl invalid: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("relay config pair_ttl must be positive")
	}
	if raw := strings.TrimSpace(cfg.PublicURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("relay config public_url invalid: %q", cfg.PublicURL)
		}
	}
	if cfg.InboxLimit < 0 {
		return fmt.Errorf("relay config inbox_limit must not be negative")
	}
	if cfg.Push.Enabled && strings.TrimSpace(cfg.Push.VAPIDPublicKey) == "" {
		return fmt.Errorf("relay config push enabled without vapid_public_key")
	}
	for i, origin := range cfg.CorsOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("cors_origins[%d] is empty", i)
		}
	}
	return nil
}
