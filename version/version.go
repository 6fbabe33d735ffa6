// Package version provides build version information embedding.
package version

import (
	"runtime/debug"
	"time"
)

var (
	// These variables are set at build time using -ldflags
	Version   = "dev"
	GitCommit = ""
	GitBranch = ""
	BuildTime = ""
	GoVersion = ""
)

// Info is the build information the version endpoint serves.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	GitBranch string `json:"git_branch,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// GetVersionInfo returns the build information, filling gaps from the
// binary's embedded build metadata when ldflags left them unset.
func GetVersionInfo() *Info {
	info := &Info{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		if info.GoVersion == "" {
			info.GoVersion = buildInfo.GoVersion
		}
		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					commit := setting.Value
					if len(commit) > 7 {
						commit = commit[:7]
					}
					info.GitCommit = commit
				}
			case "vcs.time":
				if info.BuildTime == "" {
					if _, err := time.Parse(time.RFC3339, setting.Value); err == nil {
						info.BuildTime = setting.Value
					}
				}
			}
		}
	}

	return info
}

// GetShortVersion returns "version-commit" when a commit is known, the
// bare version otherwise.
func GetShortVersion() string {
	info := GetVersionInfo()
	if info.GitCommit != "" {
		return info.Version + "-" + info.GitCommit
	}
	return info.Version
}
