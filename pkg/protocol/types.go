// Package protocol defines shared types and messages for Hub-Agent communication.
package protocol

import "time"

// Capability names a unit of functionality an Agent advertises in its
// info_response. Hubs must not assume a capability is present and should
// branch on this set instead of probing for it with a request.
type Capability string

const (
	CapFileUpload     Capability = "file_upload"
	CapFileList       Capability = "file_list"
	CapSteamShortcuts Capability = "steam_shortcuts"
	CapSteamArtwork   Capability = "steam_artwork"
	CapSteamUsers     Capability = "steam_users"
	CapSteamRestart   Capability = "steam_restart"
	CapTelemetry      Capability = "telemetry"
	CapConsoleLog     Capability = "console_log"
	CapGameLog        Capability = "game_log"
)

// AgentInfo contains information about a discovered or connected agent.
type AgentInfo struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Platform              string       `json:"platform"`
	Version               string       `json:"version"`
	AcceptConnections     bool         `json:"acceptConnections"`
	Capabilities          []Capability `json:"capabilities,omitempty"`
	SupportedImageFormats []string     `json:"supportedImageFormats,omitempty"`
}

// HasCapability reports whether the agent advertised the given capability.
func (a *AgentInfo) HasCapability(c Capability) bool {
	for _, cap := range a.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// UploadConfig defines the configuration for uploading a game.
type UploadConfig struct {
	GameName      string `json:"gameName"`
	InstallPath   string `json:"installPath"`
	Executable    string `json:"executable"`
	LaunchOptions string `json:"launchOptions,omitempty"`
	Tags          string `json:"tags,omitempty"`
}

// ShortcutConfig defines the configuration for creating a Steam shortcut.
type ShortcutConfig struct {
	Name          string         `json:"name"`
	Exe           string         `json:"exe"`
	StartDir      string         `json:"startDir"`
	LaunchOptions string         `json:"launchOptions,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Artwork       *ArtworkConfig `json:"artwork,omitempty"`
}

// ArtworkConfig defines artwork paths for a shortcut.
type ArtworkConfig struct {
	Grid   string `json:"grid,omitempty"`   // 600x900 portrait
	Hero   string `json:"hero,omitempty"`   // 1920x620 header
	Logo   string `json:"logo,omitempty"`   // transparent logo
	Icon   string `json:"icon,omitempty"`   // square icon
	Banner string `json:"banner,omitempty"` // 460x215 horizontal
}

// ShortcutInfo contains information about an existing shortcut.
type ShortcutInfo struct {
	AppID         uint32   `json:"appId"`
	Name          string   `json:"name"`
	Exe           string   `json:"exe"`
	StartDir      string   `json:"startDir"`
	LaunchOptions string   `json:"launchOptions,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	LastPlayed    int64    `json:"lastPlayed,omitempty"`
}

// UploadStatus represents the current state of an upload.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusInProgress UploadStatus = "in_progress"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
	UploadStatusCancelled  UploadStatus = "cancelled"
)

// UploadProgress contains progress information for an active upload.
type UploadProgress struct {
	UploadID         string       `json:"uploadId"`
	Status           UploadStatus `json:"status"`
	TotalBytes       int64        `json:"totalBytes"`
	TransferredBytes int64        `json:"transferredBytes"`
	CurrentFile      string       `json:"currentFile,omitempty"`
	StartedAt        time.Time    `json:"startedAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	Error            string       `json:"error,omitempty"`
}

// Percentage returns the upload progress as a percentage (0-100).
func (p *UploadProgress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.TransferredBytes) / float64(p.TotalBytes) * 100
}

// Telemetry value types. Every metric group is a pointer so a partial
// sample (a probe that can't read one subsystem) is representable without
// zero values being mistaken for real readings.

// CPUMetrics reports processor utilization.
type CPUMetrics struct {
	UsagePercent float64 `json:"usagePercent"`
	TempCelsius  float64 `json:"tempCelsius,omitempty"`
	FreqMHz      float64 `json:"freqMHz,omitempty"`
}

// GPUMetrics reports graphics processor utilization.
type GPUMetrics struct {
	UsagePercent   float64 `json:"usagePercent"`
	TempCelsius    float64 `json:"tempCelsius,omitempty"`
	FreqMHz        float64 `json:"freqMHz,omitempty"`
	MemFreqMHz     float64 `json:"memFreqMHz,omitempty"`
	VRAMUsedBytes  int64   `json:"vramUsedBytes,omitempty"`
	VRAMTotalBytes int64   `json:"vramTotalBytes,omitempty"`
}

// MemoryMetrics reports system memory usage.
type MemoryMetrics struct {
	TotalBytes     int64   `json:"totalBytes"`
	AvailableBytes int64   `json:"availableBytes"`
	UsagePercent   float64 `json:"usagePercent"`
	SwapTotalBytes int64   `json:"swapTotalBytes,omitempty"`
	SwapFreeBytes  int64   `json:"swapFreeBytes,omitempty"`
}

// BatteryMetrics reports battery state.
type BatteryMetrics struct {
	Capacity int    `json:"capacity"`
	Status   string `json:"status,omitempty"`
}

// PowerMetrics reports power draw.
type PowerMetrics struct {
	TDPWatts   float64 `json:"tdpWatts,omitempty"`
	PowerWatts float64 `json:"powerWatts,omitempty"`
}

// FanMetrics reports fan speed.
type FanMetrics struct {
	RPM int `json:"rpm"`
}

// SteamStatus reports whether Steam is running and in gaming mode.
type SteamStatus struct {
	Running    bool `json:"running"`
	GamingMode bool `json:"gamingMode"`
}

// TelemetryData is a single snapshot of hardware/software telemetry.
type TelemetryData struct {
	Timestamp int64           `json:"timestamp"`
	CPU       *CPUMetrics     `json:"cpu,omitempty"`
	GPU       *GPUMetrics     `json:"gpu,omitempty"`
	Memory    *MemoryMetrics  `json:"memory,omitempty"`
	Battery   *BatteryMetrics `json:"battery,omitempty"`
	Power     *PowerMetrics   `json:"power,omitempty"`
	Fan       *FanMetrics     `json:"fan,omitempty"`
	Steam     *SteamStatus    `json:"steam,omitempty"`
}

// ConsoleLogEntry is a single line captured from the browser/CDP console.
type ConsoleLogEntry struct {
	Timestamp int64  `json:"timestamp"`
	Level     string `json:"level"`
	Source    string `json:"source,omitempty"`
	Message   string `json:"message"`
}

// ConsoleLogBatch is a batch of console log entries plus a drop count for
// entries that could not be buffered before the batch was flushed.
type ConsoleLogBatch struct {
	Entries []ConsoleLogEntry `json:"entries"`
	Dropped int               `json:"dropped"`
}
