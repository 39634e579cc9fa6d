package common

// These variables are injected at build time using -ldflags
var (
	VERSION = "dev"
	COMMIT  = "unknown"
	BRANCH  = "unknown"
)

func GetVersion() string {
	if VERSION == "dev" {
		return "0.1.0-dev"
	}
	return VERSION
}

// GetBuildInfo returns the version with commit and branch, for the
// startup log line.
func GetBuildInfo() string {
	return GetVersion() + " (" + COMMIT + "@" + BRANCH + ")"
}
