package server

import (
	"path/filepath"
	"strings"

	ragerr "localrag/internal/errors"
)

// deniedPrefixes are system locations that must never be ingested.
var deniedPrefixes = []string{
	`c:\windows`,
	`c:\program files`,
	"/etc",
	"/var",
}

// validateIngestPath enforces the ingestion path policy: absolute, no parent
// traversal, not under a denied system prefix.
func validateIngestPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ragerr.ValidationError("path is required")
	}
	if !filepath.IsAbs(path) && !windowsAbs(path) {
		return ragerr.Newf(ragerr.ErrCodeInvalidPath, "path %q must be absolute", path)
	}

	// filepath.ToSlash is a no-op for backslashes on non-Windows hosts, so
	// Windows-style paths are normalized by hand to keep the policy uniform.
	normalized := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return ragerr.Newf(ragerr.ErrCodeInvalidPath, "path %q contains parent traversal", path)
		}
	}

	for _, prefix := range deniedPrefixes {
		p := strings.ToLower(strings.ReplaceAll(prefix, `\`, "/"))
		if normalized == p || strings.HasPrefix(normalized, p+"/") {
			return ragerr.Newf(ragerr.ErrCodeInvalidPath, "path %q is in a protected system location", path)
		}
	}
	return nil
}

// windowsAbs recognizes drive-letter paths so policy tests behave the same on
// every platform.
func windowsAbs(path string) bool {
	return len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/')
}
