// Package version holds build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X llmbench/internal/version.Version=v1.2.0 -X llmbench/internal/version.Commit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the build
	Version = "dev"
	// Commit is the git SHA the binary was built from
	Commit = "none"
	// Date is the ISO8601 build time
	Date = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("llmbench %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
