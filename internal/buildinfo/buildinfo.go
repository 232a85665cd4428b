// Package buildinfo carries the version stamped in with -ldflags and
// the names toolhost presents to tool servers.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set with -ldflags "-X github.com/nugget/toolhost/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// ClientName is sent as clientInfo.name in the initialize handshake.
const ClientName = "toolhost"

var started = time.Now()

// Info is the build and runtime summary served by /v1/version.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Uptime    string `json:"uptime"`
}

// Get returns the current Info.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    Uptime().String(),
	}
}

// Fields returns Info as ordered name/value pairs for text output.
func (i Info) Fields() [][2]string {
	return [][2]string{
		{"version", i.Version},
		{"git_commit", i.GitCommit},
		{"git_branch", i.GitBranch},
		{"build_time", i.BuildTime},
		{"go_version", i.GoVersion},
		{"os", i.OS},
		{"arch", i.Arch},
	}
}

// ClientInfo is the clientInfo object of the initialize handshake.
func ClientInfo() map[string]string {
	return map[string]string{"name": ClientName, "version": Version}
}

// Uptime is the time since the process started, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s)", ClientName, Version, runtime.GOOS)
}

// String is a one-line summary for the version command and logs.
func String() string {
	return fmt.Sprintf("%s %s (%s@%s) built %s", ClientName, Version, GitCommit, GitBranch, BuildTime)
}
