// Package version exposes the running binary's build identity, the way
// tarsy's pkg/version derives it from runtime/debug.BuildInfo instead of
// -ldflags (Go 1.18+ embeds VCS info automatically).
package version

import "runtime/debug"

// AppName identifies this service in logs, user-agent strings, and the
// healthz body.
const AppName = "meridian-coordinator"

// GitCommit is the short (8-char) git commit hash from build info, or
// "dev" when build info is unavailable (go run, non-VCS builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 8 {
				return s.Value[:8]
			}
			return s.Value
		}
	}
	return "dev"
}

// Full returns "meridian-coordinator/<commit>" for logging and healthz.
func Full() string {
	return AppName + "/" + GitCommit
}
