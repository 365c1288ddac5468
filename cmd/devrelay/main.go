package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/buslink/internal/config"
	"github.com/danmuck/buslink/internal/devrelay"
	"github.com/danmuck/buslink/internal/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "devrelay: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		offerNode  string
	)
	cmd := &cobra.Command{
		Use:           "devrelay",
		Short:         "Run the in-memory development relay",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			observability.InitLogger("devrelay")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			srv := devrelay.New(config.RelayOptions(cfg))

			if node := strings.TrimSpace(offerNode); node != "" {
				offer, err := srv.Offer(node, relayURL(cfg))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pair code for %s: %s\ncredential: %s\n", node, offer.Payload.PairCode, offer.PairB64)
			}
			log.Info().Str("config", configPath).Msg("devrelay starting")
			return srv.Serve(cfg.Addr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "relay config file (defaults built in)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config")
	cmd.Flags().StringVar(&offerNode, "offer", "", "publish a pairing offer for this node id at startup")
	return cmd
}

func loadConfig(path string) (config.RelayConfig, error) {
	if strings.TrimSpace(path) == "" {
		return config.DefaultRelayConfig(), nil
	}
	return config.LoadRelayConfig(path)
}

// relayURL is the base URL clients are told to claim against.
func relayURL(cfg config.RelayConfig) string {
	if u := strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/"); u != "" {
		return u
	}
	host := cfg.Addr
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return "http://" + host
}
