// Package version exposes build-time version information.
package version

import "fmt"

// Version is the service current released version.
// This value can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/platewise/platewise/internal/version.Version=v0.4.0"
var Version = "0.0.0-dev"

// GitCommit is the git commit hash at build time.
// Set via ldflags: -X github.com/platewise/platewise/internal/version.GitCommit=$(git rev-parse HEAD)
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"

// GetCurrentVersion returns the version string for the given run mode.
// Dev and demo instances are suffixed so logs and metrics are
// distinguishable from production.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return fmt.Sprintf("%s-%s", Version, mode)
	}
	return Version
}
