//go:build !windows

package agentsession

import (
	"os"
	"path/filepath"
)

// steamInstalled reports whether a Steam client install can be found in
// one of its usual Linux locations, the way the teacher's
// pkg/steam.getBaseDir probes for a base directory on this platform.
func steamInstalled() bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}

	candidates := []string{
		filepath.Join(home, ".steam", "steam"),
		filepath.Join(home, ".local", "share", "Steam"),
		filepath.Join(home, ".var", "app", "com.valvesoftware.Steam", ".steam", "steam"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
