// Package version carries build metadata, set with -ldflags at release time
// and reported by the relay's health and debug endpoints.
package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
