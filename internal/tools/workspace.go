package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolvePath resolves path against workspace root and enforces that the
// result equals or lies strictly under the root (§4.4.3 "Path safety").
func resolvePath(workspace, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Join(workspace, path)
	}
	root := filepath.Clean(workspace)
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q resolves outside the workspace", path)
	}
	return candidate, nil
}
