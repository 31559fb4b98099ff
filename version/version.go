// Package version exposes the marketplace build identity.
package version

import "runtime/debug"

// Version is the release tag, overridable at build time with
// -ldflags "-X marketplace.aleph.sh/version.Version=v1.2.3".
var Version = "dev"

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Commit    string `json:"commit,omitempty"`
}

// Get reads the build identity from the binary. The commit hash is
// taken from the vcs metadata the Go toolchain embeds.
func Get() Info {
	info := Info{Version: Version}
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = build.GoVersion
	for _, s := range build.Settings {
		if s.Key == "vcs.revision" {
			info.Commit = s.Value
			break
		}
	}
	return info
}
