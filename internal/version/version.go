// Package version holds build metadata stamped in with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/central/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/central/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/central/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "runtime"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata reported on the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String returns a one-line version string for logs and -version output.
func String() string {
	return Version + " (" + Commit + ", " + runtime.Version() + ") built " + BuildTime
}
