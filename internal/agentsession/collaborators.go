package agentsession

import "github.com/capydeploy/capydeploy/pkg/protocol"

// SteamIntegration abstracts the Steam-side operations a Session needs:
// user enumeration, shortcut CRUD, artwork application, and restarting
// the Steam client. Per spec.md §9's redesign note, this replaces the
// original's runtime type assertions against a concrete client with an
// explicit interface boundary; Capability flags in AgentInfo tell the
// Hub which of these a particular Agent build actually backs.
type SteamIntegration interface {
	Users() ([]protocol.SteamUser, error)
	ListShortcuts(userID string) ([]protocol.ShortcutInfo, error)
	CreateShortcut(userID string, cfg protocol.ShortcutConfig) (appID uint32, err error)
	DeleteShortcut(userID string, appID uint32) error
	DeleteGame(appID uint32) (gameName string, err error)
	ApplyArtwork(userID string, appID uint32, cfg *protocol.ArtworkConfig) (applied []string, failed []protocol.ArtworkFailed, err error)
	ApplyArtworkImage(appID uint32, artworkType string, data []byte, contentType string) error
	RestartSteam() (success bool, message string)
}

// TelemetryProbe abstracts hardware/software telemetry sampling.
// Implementations push samples from their own goroutine; Session only
// starts and stops sampling and receives pushed values.
type TelemetryProbe interface {
	Start(intervalMs int, onSample func(protocol.TelemetryData)) error
	SetInterval(intervalMs int) error
	Stop()
}

// ConsoleLogSource abstracts streaming the Steam client's CEF console
// (the teacher's consolelog.Collector, generalized to an interface).
type ConsoleLogSource interface {
	Start(onEntry func(protocol.ConsoleLogEntry)) error
	SetFilter(substring string)
	Stop()
}

// GameLogWrapper abstracts wrapping a launched game's process to
// capture its own stdout/stderr to a log file (Linux only in the
// original, but expressed here as a platform-agnostic interface).
type GameLogWrapper interface {
	Enable(appID uint32) error
	Disable(appID uint32) error
	Status() (running bool, logPath string, err error)
}
