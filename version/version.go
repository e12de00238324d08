package version

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Set at build time with -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = ""
	GitBranch = ""
	BuildTime = ""
)

// Product prefixes the User-Agent sent to the registry.
const Product = "discoverykit"

// Info is the build identity of the running agent.
type Info struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit,omitempty"`
	GitBranch string    `json:"git_branch,omitempty"`
	BuildTime string    `json:"build_time,omitempty"`
	GoVersion string    `json:"go_version"`
	BuildDate time.Time `json:"build_date"`
	IsRelease bool      `json:"is_release"`
	IsDirty   bool      `json:"is_dirty"`
}

// Get returns the build identity. Values set through -ldflags win over the
// VCS stamps recorded by the Go toolchain.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		IsRelease: Version != "dev" && !strings.Contains(Version, "dirty"),
	}
	if BuildTime != "" {
		if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
			info.BuildDate = t
		}
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		applyVCS(&info, bi.Settings)
	}
	return info
}

func applyVCS(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "" {
				info.GitCommit = shortCommit(s.Value)
			}
		case "vcs.modified":
			info.IsDirty = s.Value == "true"
		case "vcs.time":
			if info.BuildTime == "" {
				if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
					info.BuildDate = t
					info.BuildTime = s.Value
				}
			}
		}
	}
	if info.IsDirty {
		info.IsRelease = false
	}
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

// Short renders "version[-commit][-dirty]".
func (i Info) Short() string {
	s := i.Version
	if i.GitCommit != "" {
		s += "-" + i.GitCommit
	}
	if i.IsDirty && !strings.Contains(s, "dirty") {
		s += "-dirty"
	}
	return s
}

// String renders the short version plus the branch when it is not a
// mainline branch, and the build date when known.
func (i Info) String() string {
	s := i.Short()
	if i.GitBranch != "" && i.GitBranch != "main" && i.GitBranch != "master" {
		s += " (" + i.GitBranch + ")"
	}
	if !i.BuildDate.IsZero() {
		s += fmt.Sprintf(" built %s", i.BuildDate.UTC().Format(time.RFC3339))
	}
	return s
}

// UserAgent identifies a component of the agent to remote services,
// e.g. "discoverykit/1.2.0-abc1234 (consul)".
func (i Info) UserAgent(component string) string {
	ua := Product + "/" + i.Short()
	if component != "" {
		ua += " (" + component + ")"
	}
	return ua
}

// Meta returns the registration metadata that advertises the agent build.
func (i Info) Meta() map[string]string {
	meta := map[string]string{"agent_version": i.Version}
	if i.GitCommit != "" {
		meta["agent_commit"] = i.GitCommit
	}
	return meta
}
