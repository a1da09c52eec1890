// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nmr holds code to drive the NMR acquisition chain of a
// Red Pitaya board.
package nmr // import "github.com/go-lpc/nmr"

import (
	"runtime/debug"
	"slices"
	"strings"
)

// Version returns the version of nmr and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

const modpath = "github.com/go-lpc/nmr"

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}
	if b.Main.Path == modpath {
		return mainVersion(b)
	}
	i := slices.IndexFunc(b.Deps, func(m *debug.Module) bool {
		return m.Path == modpath
	})
	if i < 0 {
		return "", ""
	}
	return depVersion(b.Deps[i])
}

// mainVersion returns the version of nmr built as the main module.
// Development builds are identified by their VCS revision.
func mainVersion(b *debug.BuildInfo) (string, string) {
	if v := b.Main.Version; v != "" && v != "(devel)" {
		return v, b.Main.Sum
	}

	var rev, dirty string
	for _, kv := range b.Settings {
		switch kv.Key {
		case "vcs.revision":
			rev = kv.Value
		case "vcs.modified":
			if kv.Value == "true" {
				dirty = "+dirty"
			}
		}
	}
	if rev == "" {
		return b.Main.Version, b.Main.Sum
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return "devel-" + rev + dirty, ""
}

// depVersion returns the version of nmr used as the dependency m,
// taking a replace directive into account.
func depVersion(m *debug.Module) (string, string) {
	r := m.Replace
	switch {
	case r == nil:
		return m.Version, m.Sum
	case r.Path == "" && r.Version == "":
		return m.Version + "*", ""
	}
	return strings.TrimSpace(r.Path + " " + r.Version), r.Sum
}
