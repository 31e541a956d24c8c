// Package version derives the daemon's version string from build
// metadata. A release stamped at package-build time wins, then the VCS
// revision Go recorded, then "dev":
//
//	go build -ldflags "-X github.com/wardenlabs/warden/pkg/version.release=1.4.0"
package version

import "runtime/debug"

// AppName prefixes version strings, user agents, and the system
// registry entry.
const AppName = "warden"

// release and commit are stamped by package builds where .git is
// unavailable. Source builds leave them empty and fall back to the
// build info Go embeds.
var (
	release string
	commit  string
)

// Version is the bare version: the stamped release, else the short VCS
// revision with a "+dirty" suffix for modified trees, else "dev".
var Version = resolve()

func resolve() string {
	if release != "" {
		return release
	}
	if commit != "" {
		return short(commit)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if dirty {
		return short(rev) + "+dirty"
	}
	return short(rev)
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "warden/<version>" for logs, the window header, and the
// system registry.
func Full() string {
	return AppName + "/" + Version
}
