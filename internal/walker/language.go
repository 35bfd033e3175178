package walker

import (
	"path/filepath"

	"github.com/src-d/enry/v2"
)

// DetectLanguage returns the language for a filename, optionally using
// leading content bytes to disambiguate. Returns "" when undetected.
func DetectLanguage(filename string, content []byte) string {
	return enry.GetLanguage(filepath.Base(filename), content)
}

// IsBinary reports whether the leading bytes look like binary content.
func IsBinary(sniff []byte) bool {
	return enry.IsBinary(sniff)
}

// IsVendored reports whether the path is vendored or generated tooling
// output (minified assets, lockfile churn, vendor trees).
func IsVendored(relPath string) bool {
	return enry.IsVendor(relPath)
}
