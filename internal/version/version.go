// Package version holds build identification stamped in via -ldflags:
//
//	-X .../internal/version.Version=v1.2.3
package version

import "runtime"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GoVersion reports the toolchain the binary was built with.
func GoVersion() string { return runtime.Version() }
