package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/peersync/internal/models"
	"github.com/iudanet/peersync/pkg/api"
)

func (c *Cli) runPeers(ctx context.Context) error {
	peers, err := c.api.Peers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list peers: %w", err)
	}
	return c.render(peersTmpl, peers)
}

func (c *Cli) runUntrust(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: peersync untrust <device-id>")
	}

	if err := c.api.Untrust(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to untrust device: %w", err)
	}

	c.io.Printf("✓ Device %s removed from trusted devices\n", args[0])
	return nil
}

func (c *Cli) runGrant(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("usage: peersync grant <device-id> <capability> <level> [ttl]")
	}

	// Проверяем локально, чтобы не гонять запрос с заведомо неверными данными
	if _, err := models.ParsePermissionLevel(args[2]); err != nil {
		return err
	}
	req := api.GrantRequest{Level: args[2]}
	if len(args) == 4 {
		if _, err := time.ParseDuration(args[3]); err != nil {
			return fmt.Errorf("invalid ttl %q: %w", args[3], err)
		}
		req.TTL = args[3]
	}

	peer, err := c.api.Grant(ctx, args[0], args[1], req)
	if err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	c.io.Printf("✓ Granted %s:%s\n\n", args[1], args[2])
	return c.render(peerTmpl, peer)
}

func (c *Cli) runRevoke(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: peersync revoke <device-id> <capability>")
	}

	peer, err := c.api.Revoke(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	c.io.Printf("✓ Revoked %s\n\n", args[1])
	return c.render(peerTmpl, peer)
}
