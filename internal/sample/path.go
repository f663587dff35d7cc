package sample

import (
	"os"
	"path/filepath"
	"strings"
)

// expandHome resolves a leading "~" the way a shell would. The engine does
// its own expansion; this is only for artifacts written locally.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
