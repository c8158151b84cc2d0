// Package version provides the build version of the server.
package version

// Version is the semver of the current build.
var Version = "0.4.1"

// DevVersion is the version suffix used outside of prod mode.
var DevVersion = Version + "-dev"

// GetCurrentVersion returns the version string for the given mode.
func GetCurrentVersion(mode string) string {
	if mode == "prod" {
		return Version
	}
	return DevVersion
}
