package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeAppName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "nginx-demo", false},
		{"underscores", "uptime_kuma", false},
		{"max length", strings.Repeat("a", 64), false},
		{"too long", strings.Repeat("a", 65), true},
		{"empty", "", true},
		{"path traversal", "../etc", true},
		{"slash", "apps/evil", true},
		{"backslash", `apps\evil`, true},
		{"shell meta", "app;rm -rf", true},
		{"space", "my app", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeAppName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.input, got)
			}
		})
	}
}

func TestValidateEthAddress(t *testing.T) {
	addr, err := ValidateEthAddress("0xAbCdEf0123456789abcdef0123456789ABCDEF01")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", addr)

	for _, bad := range []string{
		"",
		"0x123",
		"abcdef0123456789abcdef0123456789abcdef01",
		"0xZZcdef0123456789abcdef0123456789abcdef01",
		"0xabcdef0123456789abcdef0123456789abcdef0123",
	} {
		_, err := ValidateEthAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateSSHHost(t *testing.T) {
	tests := []struct {
		host          string
		allowInternal bool
		wantErr       bool
	}{
		{"1.2.3.4", false, false},
		{"203.0.113.5", false, false},
		{"example.com", false, false},
		{"", false, true},
		{"169.254.169.254", false, true},
		{"169.254.169.254", true, true},
		{"metadata.google.internal", false, true},
		{"100.100.100.200", false, true},
		{"metadata.azure.com", true, true},
		{"localhost", false, true},
		{"localhost", true, false},
		{"127.0.0.1", false, true},
		{"127.0.0.1", true, false},
		{"127.0.0.53", true, false},
		{"10.0.0.1", false, true},
		{"192.168.1.10", false, true},
		{"172.16.5.4", false, true},
		{"::1", false, true},
		{"0.0.0.0", false, true},
		{"224.0.0.1", false, true},
	}
	for _, tt := range tests {
		err := ValidateSSHHost(tt.host, tt.allowInternal)
		if tt.wantErr {
			assert.Error(t, err, "host %q allowInternal=%v", tt.host, tt.allowInternal)
		} else {
			assert.NoError(t, err, "host %q allowInternal=%v", tt.host, tt.allowInternal)
		}
	}
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, ValidatePort(22))
	assert.NoError(t, ValidatePort(1))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(65536))
	assert.Error(t, ValidatePort(-1))
}

func TestQuoteShell(t *testing.T) {
	assert.Equal(t, "'plain'", QuoteShell("plain"))
	assert.Equal(t, `'it'\''s'`, QuoteShell("it's"))
	assert.Equal(t, "'a b;c'", QuoteShell("a b;c"))
}

func TestSafeWriteFileCommand(t *testing.T) {
	cmd := SafeWriteFileCommand("hello\nworld", "/root/apps/demo/docker-compose.yml")
	assert.Equal(t, "echo 'aGVsbG8Kd29ybGQ=' | base64 -d > '/root/apps/demo/docker-compose.yml'", cmd)

	// content must never appear literally in the command
	cmd = SafeWriteFileCommand("$(reboot)", "/tmp/x")
	assert.NotContains(t, cmd, "$(reboot)")
}

func TestRandomGenerators(t *testing.T) {
	n1, n2 := GenerateNonce(), GenerateNonce()
	assert.Len(t, n1, 32)
	assert.NotEqual(t, n1, n2)

	tok := GenerateToken()
	assert.Len(t, tok, 43)

	pw := GeneratePassword()
	assert.Len(t, pw, 22)
	assert.NotContains(t, pw, "=")
}
