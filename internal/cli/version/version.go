// Package version carries build metadata, set with -ldflags at release.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

func Short() string {
	return Version
}
