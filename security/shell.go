package security

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// QuoteShell wraps s in single quotes for a POSIX shell, escaping any
// embedded single quote with the '\'' idiom.
func QuoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SafeWriteFileCommand builds a remote command that writes content to
// path without the content ever appearing on the command line
// unquoted. The payload travels base64-encoded through stdin of the
// decoder and the target path is shell-quoted.
func SafeWriteFileCommand(content, path string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	return fmt.Sprintf("echo %s | base64 -d > %s", QuoteShell(encoded), QuoteShell(path))
}
