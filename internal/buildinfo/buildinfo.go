// Package buildinfo carries the version stamped in with
//
//	-ldflags "-X starlet/internal/buildinfo.Version=... -X starlet/internal/buildinfo.Commit=..."
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns a compact build identifier for the window title and logs.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		if len(Commit) > 12 {
			return Commit[:12]
		}
		return Commit
	}
	return "dev"
}

// Describe returns every stamped field on one line.
func Describe() string {
	return fmt.Sprintf("starlet %s (commit %s, built %s)", Short(), Commit, Date)
}
