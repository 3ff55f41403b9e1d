// Package buildinfo holds version metadata injected at link time, e.g.
// -ldflags "-X orderbatch/internal/buildinfo.Version=v1.2.0".
package buildinfo

import "runtime"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
		"go":      runtime.Version(),
	}
}
