// Package buildinfo carries version stamps set with -ldflags -X.
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info returns the stamped values, falling back to the VCS revision the Go
// toolchain embeds when Commit was not set.
func Info() map[string]string {
    commit := Commit
    goVersion := ""
    if bi, ok := debug.ReadBuildInfo(); ok {
        goVersion = bi.GoVersion
        if commit == "" {
            for _, s := range bi.Settings {
                if s.Key == "vcs.revision" { commit = s.Value }
            }
        }
    }
    return map[string]string{
        "service":   "drivlet-bookings",
        "version":   Version,
        "commit":    commit,
        "builtAt":   BuiltAt,
        "goVersion": goVersion,
    }
}
