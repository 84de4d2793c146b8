package version

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withBuildVars(t *testing.T, v, commit, built string) {
	t.Helper()
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })
}

func TestGetUsesLinkTimeValues(t *testing.T) {
	withBuildVars(t, "v1.4.0", "0123456789abcdef", "2026-03-01T10:00:00Z")

	info := Get()
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.True(t, info.IsRelease())
	assert.Equal(t, "v1.4.0 (0123456)", info.Short())
}

func TestGetDevBuild(t *testing.T) {
	withBuildVars(t, "dev", "", "")

	info := Get()
	assert.True(t, info.Version == "dev" || strings.HasPrefix(info.Version, "dev-") || strings.HasPrefix(info.Version, "v"),
		"unexpected version %q", info.Version)
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:   "v2.0.0",
		GitCommit: "abcdef1234",
		Dirty:     true,
		GoVersion: "go1.24.4",
		Platform:  "linux/amd64",
	}
	out := info.String()
	assert.Contains(t, out, "Version: v2.0.0")
	assert.Contains(t, out, "Commit: abcdef1234 (modified)")
	assert.NotContains(t, out, "Built:")
	assert.Contains(t, out, "Platform: linux/amd64")
}

func TestShortDevVersion(t *testing.T) {
	info := Info{Version: "dev-abcdef1", GitCommit: "abcdef1234"}
	assert.Equal(t, "dev-abcdef1", info.Short())
	assert.False(t, info.IsRelease())

	assert.Equal(t, "dev", Info{Version: "dev"}.Short())
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2026, parseTime("2026-01-02 03:04:05").Year())
}
