package sshexec

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"marketplace.aleph.sh/security"
)

// keyMatchPrefix reduces an authorized_keys entry to its key-type and
// base64 fields, dropping the comment, so revocation matches the key
// however it was labelled at install time.
func keyMatchPrefix(publicKey string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(publicKey))
	if len(fields) < 2 {
		return "", fmt.Errorf("malformed public key")
	}
	return fields[0] + " " + fields[1], nil
}

// RevokeAuthorizedKey removes the deployment public key from the VM's
// authorized_keys. The file is rewritten through a sibling temp file
// and renamed into place so a concurrent login never sees a partial
// file. A missing authorized_keys counts as success.
func (c *Client) RevokeAuthorizedKey(ctx context.Context, publicKey string) error {
	prefix, err := keyMatchPrefix(publicKey)
	if err != nil {
		return err
	}

	// grep exits 1 when every line matched; that still leaves a valid
	// (empty) file to move into place
	cmd := fmt.Sprintf(
		`AK="$HOME/.ssh/authorized_keys"; [ -f "$AK" ] || exit 0; `+
			`grep -vF %s "$AK" > "$AK.tmp"; rc=$?; [ "$rc" -le 1 ] || exit "$rc"; `+
			`chmod 600 "$AK.tmp" && mv "$AK.tmp" "$AK"`,
		security.QuoteShell(prefix))

	r := c.RunCommand(ctx, cmd, 0)
	if r.Code != 0 {
		return fmt.Errorf("revoke deploy key failed: %s", r.Stderr)
	}
	logrus.WithField("host", c.host).Info("deploy key revoked")
	return nil
}
