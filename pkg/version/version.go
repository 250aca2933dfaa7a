// Package version derives the build identity stamped into log banners and
// upstream User-Agent strings.
package version

import "runtime/debug"

// AppName prefixes every version string.
const AppName = "wikirace"

// commitOverride is injected with -ldflags when the build has no VCS
// metadata, e.g. container builds from a source tarball.
var commitOverride string

// GitCommit identifies the build: the short commit hash, with a -dirty
// suffix when the tree had local changes, or "dev" when nothing is known
// (go test, non-git checkouts).
var GitCommit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shortRev(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "dev"
	}
	if dirty {
		return shortRev(revision) + "-dirty"
	}
	return shortRev(revision)
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "wikirace/<commit>" for User-Agent strings and banners.
func Full() string {
	return AppName + "/" + GitCommit
}
