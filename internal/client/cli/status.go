package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runStatus(ctx context.Context) error {
	st, err := c.api.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return c.render(statusTmpl, st)
}

func (c *Cli) runIdentity(ctx context.Context) error {
	resp, err := c.api.Pairing(ctx)
	if err != nil {
		return fmt.Errorf("failed to get identity: %w", err)
	}
	return c.render(identityTmpl, resp.Materials)
}
