//go:build windows

package agentsession

import "golang.org/x/sys/windows/registry"

// steamInstalled reports whether a Steam client install can be found via
// the Windows registry, the way the teacher's pkg/steam.getBaseDir
// locates Steam's install path on this platform.
func steamInstalled() bool {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Wow6432Node\Valve\Steam`, registry.QUERY_VALUE)
	if err != nil {
		key, err = registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Valve\Steam`, registry.QUERY_VALUE)
		if err != nil {
			return false
		}
	}
	defer key.Close()

	_, _, err = key.GetStringValue("InstallPath")
	return err == nil
}
