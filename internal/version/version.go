package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"  // ex: v2.4.0
	Commit    = "none" // ex: abcd123
	BuildDate = ""     // ex: 2026-08-11T18:42:00Z, set by -ldflags
	GoVersion = runtime.Version()
)

// String is the one line printed by `openesb version`.
func String() string {
	s := fmt.Sprintf("openesb-standalone %s (commit %s, %s", Version, Commit, GoVersion)
	if BuildDate != "" {
		s += ", built " + BuildDate
	}
	return s + ")"
}
