package station

import (
	"strings"

	"golang.org/x/mod/semver"
)

// legacyVersions maps version strings that were written in a non-semantic
// form to their corrected spelling.
var legacyVersions = map[string]string{
	"v3.51": "v3.5.1",
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if alias, ok := legacyVersions[v]; ok {
		v = alias
	}
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// Older reports whether current predates target under semantic-version
// ordering. An unparseable current version is treated as older.
func Older(current, target string) bool {
	return semver.Compare(normalizeVersion(current), normalizeVersion(target)) < 0
}
