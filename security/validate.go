// Package security holds the input-validation and shell-safety helpers
// shared by every component that touches user-supplied identifiers,
// wallet addresses, or remote hosts. Any code path that embeds a
// caller-supplied string in a remote command must go through this
// package.
package security

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	appNameRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	ethAddressRe = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

// Hosts that must never be SSH targets regardless of configuration.
// Covers the AWS/GCP, Alibaba and Azure metadata endpoints.
var blockedHosts = map[string]bool{
	"169.254.169.254":          true,
	"metadata.google.internal": true,
	"100.100.100.200":          true,
	"metadata.azure.com":       true,
}

var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"0.0.0.0":   true,
}

// SanitizeAppName validates an application identifier that will be
// embedded in remote filesystem paths. Returns the identifier unchanged
// on success.
func SanitizeAppName(name string) (string, error) {
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid app name %q: path traversal not allowed", name)
	}
	if !appNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid app name %q: must be 1-64 chars of [A-Za-z0-9_-]", name)
	}
	return name, nil
}

// ValidateEthAddress checks an Ethereum wallet address and returns its
// normalized lowercase form.
func ValidateEthAddress(address string) (string, error) {
	if !ethAddressRe.MatchString(address) {
		return "", fmt.Errorf("invalid ethereum address %q", address)
	}
	return strings.ToLower(address), nil
}

// ValidateSSHHost rejects hosts that would let a caller point the
// deployment machinery at this process or at cloud metadata services.
// allowInternal lifts the loopback ban for self-deployment setups.
func ValidateSSHHost(host string, allowInternal bool) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("ssh host must not be empty")
	}
	lower := strings.ToLower(host)
	if blockedHosts[lower] {
		return fmt.Errorf("ssh host %q is not allowed", host)
	}
	if loopbackHosts[lower] {
		if allowInternal {
			return nil
		}
		return fmt.Errorf("ssh host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if allowInternal && ip.IsLoopback() {
			return nil
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
			return fmt.Errorf("ssh host %q is in a reserved range", host)
		}
	}
	return nil
}

// ValidatePort checks a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", port)
	}
	return nil
}
