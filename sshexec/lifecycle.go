package sshexec

import (
	"context"
	"fmt"

	"marketplace.aleph.sh/security"
)

// GetAppStatus lists the stack's containers as docker compose sees
// them right now.
func (c *Client) GetAppStatus(ctx context.Context, appID string) ([]Container, error) {
	name, err := security.SanitizeAppName(appID)
	if err != nil {
		return nil, err
	}
	dir := security.QuoteShell(appsBaseDir + "/" + name)
	r := c.RunCommand(ctx, fmt.Sprintf("cd %s && docker compose ps --format json 2>/dev/null", dir), 0)
	if r.Code != 0 {
		return nil, fmt.Errorf("docker compose ps failed: %s", r.Stderr)
	}
	return parseComposePS(r.Stdout), nil
}

// StopApp brings the stack down, keeping volumes.
func (c *Client) StopApp(ctx context.Context, appID string) error {
	name, err := security.SanitizeAppName(appID)
	if err != nil {
		return err
	}
	dir := security.QuoteShell(appsBaseDir + "/" + name)
	r := c.RunCommand(ctx, fmt.Sprintf("cd %s && docker compose down", dir), 0)
	if r.Code != 0 {
		return fmt.Errorf("docker compose down failed: %s", r.Stderr)
	}
	return nil
}

// RemoveApp tears the stack down with its volumes and deletes the app
// directory. Calling it on an absent directory succeeds.
func (c *Client) RemoveApp(ctx context.Context, appID string) error {
	name, err := security.SanitizeAppName(appID)
	if err != nil {
		return err
	}
	dir := security.QuoteShell(appsBaseDir + "/" + name)
	// ignore failures here: the directory may never have existed
	c.RunCommand(ctx, fmt.Sprintf("cd %s && docker compose down -v 2>/dev/null", dir), 0)
	if r := c.RunCommand(ctx, "rm -rf "+dir, 0); r.Code != 0 {
		return fmt.Errorf("remove app directory failed: %s", r.Stderr)
	}
	return nil
}
