// Package version carries the build version and semantic version helpers
// used to compare credential format versions.
package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the build version, overridden at link time.
var Version = "dev"

// Normalize ensures version string has "v" prefix for semver compatibility.
// Examples: "2.3001.0" -> "v2.3001.0", "v2.3001.0" -> "v2.3001.0"
func Normalize(version string) string {
	if version == "" {
		return ""
	}
	version = strings.TrimSpace(version)
	if !strings.HasPrefix(version, "v") {
		return "v" + version
	}
	return version
}

// IsOlderThan reports whether version predates minimum. Unparseable versions
// compare as not older, so an unexpected format never blocks a session.
func IsOlderThan(version, minimum string) bool {
	v := Normalize(version)
	min := Normalize(minimum)
	if !semver.IsValid(v) || !semver.IsValid(min) {
		return false
	}
	return semver.Compare(v, min) < 0
}
