package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func withBuild(t *testing.T, version, commit, buildTime string, bi *debug.BuildInfo) {
	t.Helper()
	oldV, oldC, oldB, oldRead := Version, Commit, BuildTime, readBuildInfo
	Version, Commit, BuildTime = version, commit, buildTime
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() {
		Version, Commit, BuildTime, readBuildInfo = oldV, oldC, oldB, oldRead
	})
}

func TestResolveUsesLinkerValues(t *testing.T) {
	withBuild(t, "v1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z", &debug.BuildInfo{
		Main:     debug.Module{Version: "v9.9.9"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffff"}},
	})
	info := Resolve()
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef" {
		t.Fatalf("Resolve() = %+v", info)
	}
	if info.GoVersion == "" {
		t.Fatal("GoVersion empty")
	}
	if got := String(); got != "v1.2.3 (0123456789ab)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveFallsBackToBuildInfo(t *testing.T) {
	withBuild(t, "", "", "", &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
		},
	})
	info := Resolve()
	if info.Commit != "abc123" || info.BuildTime != "2026-03-04T05:06:07Z" {
		t.Fatalf("Resolve() = %+v", info)
	}
	if info.Version != info.BuildTime {
		t.Fatalf("Version = %q, want build time", info.Version)
	}
}

func TestResolveStampsMissingVersion(t *testing.T) {
	withBuild(t, "", "", "", nil)
	info := Resolve()
	if len(info.Version) != len("20060102T150405Z") || !strings.HasSuffix(info.Version, "Z") {
		t.Fatalf("Version = %q", info.Version)
	}
}

func TestDetailsSkipsEmptyFields(t *testing.T) {
	got := Info{Version: "v1.0.0", GoVersion: "go1.26.0"}.Details()
	want := "version:    v1.0.0\ngo:         go1.26.0\n"
	if got != want {
		t.Fatalf("Details() = %q, want %q", got, want)
	}

	full := Info{Version: "v1", Commit: "abc", BuildTime: "2026-01-02T03:04:05Z", GoVersion: "go1.26.0"}.Details()
	for _, l := range []string{"commit:     abc\n", "build time: 2026-01-02T03:04:05Z\n"} {
		if !strings.Contains(full, l) {
			t.Fatalf("Details() = %q, missing %q", full, l)
		}
	}
}
