package sshexec

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace.aleph.sh/security"
)

const caddyInstall = "apt-get update -qq && apt-get install -y -qq debian-keyring debian-archive-keyring apt-transport-https curl && " +
	"curl -1sLf 'https://dl.cloudsmith.io/public/caddy/stable/gpg.key' | gpg --dearmor -o /usr/share/keyrings/caddy-stable-archive-keyring.gpg && " +
	"curl -1sLf 'https://dl.cloudsmith.io/public/caddy/stable/debian.deb.txt' | tee /etc/apt/sources.list.d/caddy-stable.list && " +
	"apt-get update -qq && apt-get install -y -qq caddy"

// SetupCaddyProxy points https://<subdomain>.<baseDomain> at
// localhost:localPort on the target VM, installing caddy first when it
// is missing. Returns the public URL.
func (c *Client) SetupCaddyProxy(ctx context.Context, localPort int, subdomain, baseDomain string) (string, error) {
	if err := security.ValidatePort(localPort); err != nil {
		return "", err
	}
	fqdn := subdomain + "." + baseDomain
	log := logrus.WithFields(logrus.Fields{"host": c.host, "fqdn": fqdn})

	if r := c.RunCommand(ctx, "which caddy", dialTimeout); r.Code != 0 {
		log.Info("installing caddy")
		if r := c.RunCommand(ctx, caddyInstall, 120*time.Second); r.Code != 0 {
			return "", fmt.Errorf("failed to install caddy: %s", r.Stderr)
		}
	}

	// clean slate so a half-configured caddy does not block the reload
	c.RunCommand(ctx, "systemctl stop caddy 2>/dev/null || true", 0)

	caddyfile := fmt.Sprintf("%s {\n    reverse_proxy localhost:%d\n}\n", fqdn, localPort)
	write := security.SafeWriteFileCommand(caddyfile, "/etc/caddy/Caddyfile")
	if r := c.RunCommand(ctx, write, 0); r.Code != 0 {
		return "", fmt.Errorf("failed to write Caddyfile: %s", r.Stderr)
	}

	if r := c.RunCommand(ctx, "systemctl enable caddy && systemctl start caddy", 0); r.Code != 0 {
		return "", fmt.Errorf("failed to start caddy: %s", r.Stderr)
	}

	url := "https://" + fqdn
	log.WithField("url", url).Info("reverse proxy configured")
	return url, nil
}
