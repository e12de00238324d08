package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func restoreVars(t *testing.T) {
	t.Helper()
	v, c, b, bt := Version, GitCommit, GitBranch, BuildTime
	t.Cleanup(func() {
		Version, GitCommit, GitBranch, BuildTime = v, c, b, bt
	})
}

func TestGet_LinkerValuesWin(t *testing.T) {
	restoreVars(t)
	Version = "1.4.0"
	GitCommit = "abc1234"
	GitBranch = "main"
	BuildTime = "2026-01-15T10:30:00Z"

	info := Get()
	if info.Version != "1.4.0" {
		t.Errorf("expected '1.4.0', got %q", info.Version)
	}
	if info.GitCommit != "abc1234" {
		t.Errorf("expected 'abc1234', got %q", info.GitCommit)
	}
	if info.BuildDate.Year() != 2026 {
		t.Errorf("expected build year 2026, got %d", info.BuildDate.Year())
	}
	if info.GoVersion == "" {
		t.Error("expected go version from build info")
	}
}

func TestGet_DevIsNotRelease(t *testing.T) {
	restoreVars(t)
	for _, v := range []string{"dev", "1.0.0-dirty"} {
		Version = v
		if Get().IsRelease {
			t.Errorf("expected %q not to be a release", v)
		}
	}
}

func TestApplyVCS(t *testing.T) {
	info := Info{Version: "1.0.0", IsRelease: true}
	applyVCS(&info, []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2026-03-01T08:00:00Z"},
	})
	if info.GitCommit != "0123456" {
		t.Errorf("expected short commit '0123456', got %q", info.GitCommit)
	}
	if !info.IsDirty || info.IsRelease {
		t.Errorf("expected dirty non-release build, got %+v", info)
	}
	if info.BuildTime != "2026-03-01T08:00:00Z" {
		t.Errorf("expected vcs build time, got %q", info.BuildTime)
	}

	pinned := Info{GitCommit: "fffffff", BuildTime: "x"}
	applyVCS(&pinned, []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789"}, {Key: "vcs.time", Value: "2026-03-01T08:00:00Z"}})
	if pinned.GitCommit != "fffffff" || pinned.BuildTime != "x" {
		t.Errorf("expected linker values kept, got %+v", pinned)
	}
}

func TestInfo_Strings(t *testing.T) {
	info := Info{Version: "1.0.0", GitCommit: "abc1234", GitBranch: "feature/watch", BuildDate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	if got := info.Short(); got != "1.0.0-abc1234" {
		t.Errorf("expected '1.0.0-abc1234', got %q", got)
	}
	if got := info.String(); got != "1.0.0-abc1234 (feature/watch) built 2026-01-02T03:04:05Z" {
		t.Errorf("unexpected full version %q", got)
	}
	info.GitBranch = "main"
	if strings.Contains(info.String(), "main") {
		t.Errorf("expected mainline branch omitted, got %q", info.String())
	}
	info.IsDirty = true
	if got := info.Short(); got != "1.0.0-abc1234-dirty" {
		t.Errorf("expected dirty suffix, got %q", got)
	}
	if got := (Info{Version: "dev"}).Short(); got != "dev" {
		t.Errorf("expected 'dev', got %q", got)
	}
}

func TestInfo_UserAgentAndMeta(t *testing.T) {
	info := Info{Version: "1.0.0", GitCommit: "abc1234"}
	if got := info.UserAgent("consul"); got != "discoverykit/1.0.0-abc1234 (consul)" {
		t.Errorf("unexpected user agent %q", got)
	}
	if got := (Info{Version: "dev"}).UserAgent(""); got != "discoverykit/dev" {
		t.Errorf("unexpected user agent %q", got)
	}

	meta := info.Meta()
	if meta["agent_version"] != "1.0.0" || meta["agent_commit"] != "abc1234" {
		t.Errorf("unexpected meta %v", meta)
	}
	if _, ok := (Info{Version: "dev"}).Meta()["agent_commit"]; ok {
		t.Error("expected no commit key without a commit")
	}
}
