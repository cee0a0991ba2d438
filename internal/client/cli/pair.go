package cli

import (
	"context"
	"fmt"
	"strings"
)

const pairUsage = "Usage: peersync pair <show|accept <token>>"

func (c *Cli) runPair(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing subcommand. %s", pairUsage)
	}

	switch args[0] {
	case "show":
		resp, err := c.api.Pairing(ctx)
		if err != nil {
			return fmt.Errorf("failed to issue pairing token: %w", err)
		}
		return c.render(pairingTmpl, resp)
	case "accept":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return fmt.Errorf("missing token. %s", pairUsage)
		}
		peer, err := c.api.AcceptPairing(ctx, strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("failed to accept pairing token: %w", err)
		}
		c.io.Println("✓ Device trusted")
		c.io.Println()
		return c.render(peerTmpl, peer)
	default:
		return fmt.Errorf("unknown subcommand: %s. %s", args[0], pairUsage)
	}
}
