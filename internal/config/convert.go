package config

import (
	"strings"

	"github.com/danmuck/buslink/internal/devrelay"
)

// RelayOptions converts a validated RelayConfig into dev relay options.
func RelayOptions(cfg RelayConfig) devrelay.Options {
	return devrelay.Options{
		Name:           cfg.Name,
		CorsOrigins:    cfg.CorsOrigins,
		PairTTL:        cfg.PairTTLDuration(),
		InboxLimit:     cfg.InboxLimit,
		PushEnabled:    cfg.Push.Enabled,
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		PublicURL:      strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"),
		OfferToken:     strings.TrimSpace(cfg.OfferToken),
	}
}
