// Package version exposes build metadata stamped at link time via
// -ldflags "-X github.com/samcharles93/strata/internal/version.Version=...".
package version

import "time"

var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

type Info struct {
	Version   string
	Commit    string
	BuildTime string
}

// Resolve returns the stamped build info. Unstamped dev builds get a
// synthetic timestamp version so logs and the /version endpoint never show
// an empty string.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
	switch {
	case info.Version != "":
	case info.BuildTime != "":
		info.Version = info.BuildTime
	default:
		info.Version = "dev-" + time.Now().UTC().Format("20060102T150405Z")
	}
	return info
}

// String renders "version (commit)" for one-line output.
func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	commit := info.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return info.Version + " (" + commit + ")"
}
