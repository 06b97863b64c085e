// Package version carries the build metadata stamped into release binaries.
package version

// Overridden at build time via -ldflags -X.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
