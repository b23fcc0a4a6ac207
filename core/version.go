package core

// Build information, overridden with -ldflags at release time.
var (
	// Version is the service version reported in telemetry resources.
	Version = "development"

	// GitCommit is the source revision of the build.
	GitCommit = "unknown"
)
