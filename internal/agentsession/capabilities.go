package agentsession

import "github.com/capydeploy/capydeploy/pkg/protocol"

// DefaultCapabilities reports the capability set an Agent should
// advertise out of the box: upload/list support is always present,
// Steam-shortcut capabilities are added only when a Steam client is
// actually detected on the host (steamInstalled, platform-specific),
// and streaming capabilities depend on the optional collaborators
// wired into Config.
func DefaultCapabilities(cfg Config) []protocol.Capability {
	caps := []protocol.Capability{protocol.CapFileUpload, protocol.CapFileList}

	if cfg.Steam != nil && steamInstalled() {
		caps = append(caps,
			protocol.CapSteamShortcuts,
			protocol.CapSteamArtwork,
			protocol.CapSteamUsers,
			protocol.CapSteamRestart,
		)
	}
	if cfg.Telemetry != nil {
		caps = append(caps, protocol.CapTelemetry)
	}
	if cfg.ConsoleLog != nil {
		caps = append(caps, protocol.CapConsoleLog)
	}
	if cfg.GameLog != nil {
		caps = append(caps, protocol.CapGameLog)
	}
	return caps
}
