// Package version holds build metadata injected via -ldflags at build time.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
