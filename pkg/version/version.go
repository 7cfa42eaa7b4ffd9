// Package version holds build-time version info injected via ldflags:
//
//	go build -ldflags "-X github.com/NicolasHaas/mqchat/pkg/version.tag=v0.1.0
//	  -X github.com/NicolasHaas/mqchat/pkg/version.commit=abc1234
//	  -X github.com/NicolasHaas/mqchat/pkg/version.date=2026-01-01"
package version

import "fmt"

var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, the commit, or "dev" for local builds.
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "unknown":
		return commit
	default:
		return "dev"
	}
}

// Banner is the line printed by -version, e.g. "mqchat-server v0.1.0 (abc1234, 2026-01-01)".
func Banner(binary string) string {
	if tag == "" && commit == "unknown" {
		return binary + " dev"
	}
	return fmt.Sprintf("%s %s (%s, %s)", binary, String(), commit, date)
}
