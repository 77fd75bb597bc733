package context

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// version is set at build time with -ldflags "-X ...".
var version = ""

// VersionInfo describes the build of the running binary.
type VersionInfo struct {
	Semantic string
	Commit   string
	Dirty    bool
	Go       string
	Platform string
}

// String returns a human readable representation of the version.
func (v *VersionInfo) String() string {
	commit := v.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if v.Dirty {
		commit += "-dirty"
	}

	parts := []string{v.Semantic}
	if commit != "" {
		parts = append(parts, fmt.Sprintf("(commit/%s)", commit))
	}
	parts = append(parts, v.Go, v.Platform)

	return strings.Join(parts, ", ")
}

// GetVersion returns the version of the running binary, read from the build
// information embedded by the Go toolchain.
func GetVersion() (*VersionInfo, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fmt.Errorf("failed reading build information")
	}

	v := &VersionInfo{
		Semantic: version,
		Go:       info.GoVersion,
		Platform: fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if v.Semantic == "" {
		v.Semantic = info.Main.Version
	}
	if v.Semantic == "" || v.Semantic == "(devel)" {
		v.Semantic = "v0.0.0-dev"
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}

	return v, nil
}
