package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

var (
	// Set at build time with -ldflags "-X github.com/akirco/llmhub/version.Version=..."
	Version   = "dev"
	GitCommit = ""
)

// Info describes the llmhub build linked into the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version"`
	Dirty     bool   `json:"dirty,omitempty"`
}

var (
	infoOnce sync.Once
	info     Info
)

// Get returns the build information. Values missing from ldflags are read
// from the module build info.
func Get() Info {
	infoOnce.Do(func() { info = read() })
	return info
}

func read() Info {
	i := Info{Version: Version, GitCommit: GitCommit, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}
	if i.Version == "dev" {
		for _, dep := range bi.Deps {
			if dep.Path == modulePath && dep.Version != "" && dep.Version != "(devel)" {
				i.Version = strings.TrimPrefix(dep.Version, "v")
			}
		}
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == "" {
				i.GitCommit = s.Value
			}
		case "vcs.modified":
			i.Dirty = s.Value == "true"
		}
	}
	if len(i.GitCommit) > 7 {
		i.GitCommit = i.GitCommit[:7]
	}
	return i
}

const modulePath = "github.com/akirco/llmhub"

// Short returns the version with the commit appended when known.
func (i Info) Short() string {
	if i.GitCommit == "" {
		return i.Version
	}
	s := i.Version + "-" + i.GitCommit
	if i.Dirty {
		s += "-dirty"
	}
	return s
}

// UserAgent is the User-Agent header sent to providers.
func UserAgent() string {
	i := Get()
	return fmt.Sprintf("llmhub/%s (%s; %s/%s)", i.Short(), i.GoVersion, runtime.GOOS, runtime.GOARCH)
}
