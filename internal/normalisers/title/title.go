// Package title derives document titles from file names.
package title

import (
	"path/filepath"
	"strings"
)

// FromName turns "release-notes_v2.md" into "release notes v2".
func FromName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ReplaceAll(base, "_", " ")
	return strings.ReplaceAll(base, "-", " ")
}
