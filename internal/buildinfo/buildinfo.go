// Package buildinfo exposes the version stamped into blogmd binaries.
package buildinfo

import "log/slog"

// Set with -ldflags "-X github.com/euforicio/blogmd/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info is the JSON shape reported by the health endpoint.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Current returns the stamped build metadata.
func Current() Info {
	version := Version
	if version == "" {
		version = "dev"
	}
	return Info{Version: version, Commit: Commit, Date: Date}
}

// Summary returns a human-readable version string such as "v1.2.0 (abc123 2024-01-01)".
func Summary() string {
	info := Current()
	out := info.Version
	switch {
	case info.Commit != "" && info.Date != "":
		out += " (" + info.Commit + " " + info.Date + ")"
	case info.Commit != "":
		out += " (" + info.Commit + ")"
	case info.Date != "":
		out += " (" + info.Date + ")"
	}
	return out
}

// LogAttr returns the build summary as a structured log attribute.
func LogAttr() slog.Attr {
	return slog.String("version", Summary())
}
