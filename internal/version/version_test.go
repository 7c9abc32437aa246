package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setBuildVars(t *testing.T, v, commit, date string) {
	t.Helper()
	orig := [3]string{Version, Commit, Date}
	t.Cleanup(func() { Version, Commit, Date = orig[0], orig[1], orig[2] })
	Version, Commit, Date = v, commit, date
}

func TestGet_Runtime(t *testing.T) {
	b := Get()
	assert.Equal(t, runtime.Version(), b.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, b.Platform)
	assert.NotEmpty(t, b.Version)
}

func TestGet_LinkerFlagsWin(t *testing.T) {
	setBuildVars(t, "1.2.3", "abc1234567890", "2026-01-15")

	b := Get()
	assert.Equal(t, "1.2.3", b.Version)
	assert.Equal(t, "abc1234567890", b.Commit)
	assert.Equal(t, "2026-01-15", b.Date)
}

func TestFromBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "feedfacecafe"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	b := Build{Version: "dev", Commit: "unknown", Date: "unknown"}
	fromBuildInfo(&b, info)
	assert.Equal(t, "v0.4.0", b.Version)
	assert.Equal(t, "feedfacecafe", b.Commit)
	assert.Equal(t, "2026-03-01T10:00:00Z", b.Date)
	assert.True(t, b.Modified)

	b = Build{Version: "1.0.0", Commit: "abc", Date: "today"}
	fromBuildInfo(&b, info)
	assert.Equal(t, "1.0.0", b.Version)
	assert.Equal(t, "abc", b.Commit)
	assert.Equal(t, "today", b.Date)
}

func TestFromBuildInfo_DevelModule(t *testing.T) {
	b := Build{Version: "dev"}
	fromBuildInfo(&b, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	assert.Equal(t, "dev", b.Version)
}

func TestBuild_String(t *testing.T) {
	b := Build{
		Version:   "1.2.3",
		Commit:    "abc1234567890",
		Date:      "2026-01-15",
		GoVersion: "go1.25.7",
		Platform:  "linux/amd64",
	}
	assert.Equal(t, "kaggler 1.2.3 (commit: abc1234, built: 2026-01-15, go1.25.7, linux/amd64)", b.String())

	b.Modified = true
	assert.Contains(t, b.String(), "abc1234-dirty")
}

func TestShortCommit(t *testing.T) {
	for in, want := range map[string]string{
		"abcdefghij": "abcdefg",
		"1234567":    "1234567",
		"abc":        "abc",
		"":           "",
	} {
		assert.Equal(t, want, Build{Commit: in}.ShortCommit())
	}
}
