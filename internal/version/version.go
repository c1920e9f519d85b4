// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version output and the debug page.
func String() string {
	return fmt.Sprintf("thermocouple %s (%s, built %s)", Version, GitSHA, BuildTime)
}
