package protocol

import (
	"encoding/json"
	"time"
)

// WebSocket timing constants.
const (
	// WSWriteWait is the time allowed to write a message.
	WSWriteWait = 30 * time.Second

	// WSMaxMessageSize is the maximum message size in bytes (16MiB).
	WSMaxMessageSize = 16 * 1024 * 1024

	// WSChunkSize is the size for binary chunks (1MB).
	WSChunkSize = 1024 * 1024

	// WSRequestTimeout is the default timeout for request/response operations.
	WSRequestTimeout = 30 * time.Second

	// WSHeartbeatInterval is how often each side sends a ping.
	WSHeartbeatInterval = 25 * time.Second

	// WSDeadPeerTimeout is how long without a pong before a peer is dead.
	WSDeadPeerTimeout = 60 * time.Second
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Connection management
	MsgTypeHubConnected MessageType = "hub_connected" // Hub → Agent: handshake
	MsgTypeAgentStatus  MessageType = "agent_status"  // Agent → Hub: handshake response

	// Authentication / Pairing
	MsgTypePairingRequired MessageType = "pairing_required" // Agent → Hub: requires pairing
	MsgTypePairConfirm     MessageType = "pair_confirm"     // Hub → Agent: confirm pairing code
	MsgTypePairSuccess     MessageType = "pair_success"     // Agent → Hub: pairing successful
	MsgTypePairFailed      MessageType = "pair_failed"      // Agent → Hub: pairing failed

	// Requests from Hub to Agent
	MsgTypePing             MessageType = "ping"
	MsgTypeGetInfo          MessageType = "get_info"
	MsgTypeGetConfig        MessageType = "get_config"
	MsgTypeGetSteamUsers    MessageType = "get_steam_users"
	MsgTypeListShortcuts    MessageType = "list_shortcuts"
	MsgTypeCreateShortcut   MessageType = "create_shortcut"
	MsgTypeDeleteShortcut   MessageType = "delete_shortcut"
	MsgTypeDeleteGame       MessageType = "delete_game" // Agent handles everything internally
	MsgTypeApplyArtwork     MessageType = "apply_artwork"
	MsgTypeSendArtworkImage MessageType = "send_artwork_image" // Hub → Agent: binary image data
	MsgTypeRestartSteam     MessageType = "restart_steam"
	MsgTypeInitUpload       MessageType = "init_upload"
	MsgTypeUploadChunk      MessageType = "upload_chunk"
	MsgTypeCompleteUpload   MessageType = "complete_upload"
	MsgTypeCancelUpload     MessageType = "cancel_upload"

	// Telemetry / log streaming control
	MsgTypeSetTelemetryEnabled  MessageType = "set_telemetry_enabled"
	MsgTypeSetTelemetryInterval MessageType = "set_telemetry_interval"
	MsgTypeSetConsoleLogEnabled MessageType = "set_console_log_enabled"
	MsgTypeSetConsoleLogFilter  MessageType = "set_console_log_filter"
	MsgTypeSetGameLogWrapper    MessageType = "set_game_log_wrapper"

	// Responses from Agent to Hub
	MsgTypePong               MessageType = "pong"
	MsgTypeInfoResponse       MessageType = "info_response"
	MsgTypeConfigResponse     MessageType = "config_response"
	MsgTypeSteamUsersResponse MessageType = "steam_users_response"
	MsgTypeShortcutsResponse  MessageType = "shortcuts_response"
	MsgTypeArtworkResponse    MessageType = "artwork_response"
	MsgTypeArtworkImageResponse MessageType = "artwork_image_response" // Agent → Hub: ack for binary artwork
	MsgTypeSteamResponse        MessageType = "steam_response"
	MsgTypeUploadInitResponse   MessageType = "upload_init_response"
	MsgTypeUploadChunkResponse  MessageType = "upload_chunk_response"
	MsgTypeOperationResult      MessageType = "operation_result"
	MsgTypeError                MessageType = "error"

	// Events from Agent to Hub (push notifications)
	MsgTypeUploadProgress      MessageType = "upload_progress"
	MsgTypeOperationEvent      MessageType = "operation_event"
	MsgTypeTelemetryStatus     MessageType = "telemetry_status"
	MsgTypeTelemetryData       MessageType = "telemetry_data"
	MsgTypeConsoleLogStatus    MessageType = "console_log_status"
	MsgTypeConsoleLogData      MessageType = "console_log_data"
	MsgTypeGameLogWrapperStatus MessageType = "game_log_wrapper_status"
)

// WSError represents an error in a WebSocket message.
type WSError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Message is the envelope for all WebSocket communication.
type Message struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *WSError        `json:"error,omitempty"`
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(id string, msgType MessageType, payload any) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Message{ID: id, Type: msgType, Payload: raw}, nil
}

// ParsePayload unmarshals the payload into the given type.
func (m *Message) ParsePayload(v any) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// NewErrorMessage creates an error response message.
func NewErrorMessage(id string, code int, message string) *Message {
	return &Message{
		ID:   id,
		Type: MsgTypeError,
		Error: &WSError{
			Code:    code,
			Message: message,
		},
	}
}

// Reply creates a response message for this request.
func (m *Message) Reply(msgType MessageType, payload any) (*Message, error) {
	return NewMessage(m.ID, msgType, payload)
}

// ReplyError creates an error response for this request.
func (m *Message) ReplyError(code int, message string) *Message {
	return NewErrorMessage(m.ID, code, message)
}

// Common WebSocket error codes.
const (
	WSErrCodeBadRequest     = 400
	WSErrCodeUnauthorized   = 401
	WSErrCodeNotFound       = 404
	WSErrCodeNotAccepted    = 406
	WSErrCodeConflict       = 409
	WSErrCodeInternal       = 500
	WSErrCodeNotImplemented = 501
)

// Request payloads

// InitUploadRequest starts a new upload session.
type InitUploadRequest struct {
	Config    UploadConfig `json:"config"`
	TotalSize int64        `json:"totalSize"`
	Files     []FileEntry  `json:"files"`
}

// FileEntry represents a file in the upload manifest.
type FileEntry struct {
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
}

// UploadChunkRequest describes chunk metadata sent alongside a binary frame.
type UploadChunkRequest struct {
	UploadID string `json:"uploadId"`
	FilePath string `json:"filePath"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum,omitempty"`
	// Data carries the chunk bytes for small, JSON-embedded chunks (base64
	// encoded on the wire by encoding/json). Large chunks travel as binary
	// frames instead, where this field is left empty.
	Data []byte `json:"data,omitempty"`
}

// CompleteUploadRequest finalizes an upload.
type CompleteUploadRequest struct {
	UploadID       string          `json:"uploadId"`
	CreateShortcut bool            `json:"createShortcut"`
	Shortcut       *ShortcutConfig `json:"shortcut,omitempty"`
}

// CancelUploadRequest cancels an active upload.
type CancelUploadRequest struct {
	UploadID string `json:"uploadId"`
}

// CreateShortcutRequest creates a Steam shortcut.
type CreateShortcutRequest struct {
	UserID   uint32         `json:"userId"`
	Shortcut ShortcutConfig `json:"shortcut"`
}

// DeleteShortcutRequest removes a Steam shortcut.
type DeleteShortcutRequest struct {
	UserID       uint32 `json:"userId"`
	AppID        uint32 `json:"appId"`
	RestartSteam bool   `json:"restartSteam,omitempty"`
}

// ListShortcutsRequest lists shortcuts for a user.
type ListShortcutsRequest struct {
	UserID uint32 `json:"userId"`
}

// SetTelemetryEnabledRequest toggles telemetry streaming and its interval.
type SetTelemetryEnabledRequest struct {
	Enabled    bool `json:"enabled"`
	IntervalMs int  `json:"intervalMs,omitempty"`
}

// SetTelemetryIntervalRequest changes the sampling interval of an
// already-enabled telemetry stream without disabling it first.
type SetTelemetryIntervalRequest struct {
	IntervalMs int `json:"intervalMs"`
}

// SetConsoleLogEnabledRequest toggles console log streaming.
type SetConsoleLogEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetConsoleLogFilterRequest narrows console log streaming to lines
// matching Substring (case-sensitive, empty means unfiltered).
type SetConsoleLogFilterRequest struct {
	Substring string `json:"substring"`
}

// SetGameLogWrapperRequest enables or disables the per-launch game log
// wrapper for a Steam shortcut.
type SetGameLogWrapperRequest struct {
	AppID   uint32 `json:"appId"`
	Enabled bool   `json:"enabled"`
}

// Response payloads

// InfoResponse contains agent information.
type InfoResponse struct {
	Agent AgentInfo `json:"agent"`
}

// InitUploadResponse acknowledges upload initialization, including the
// chunk size to use and, for a resumed upload, the offset already written
// per file.
type InitUploadResponse struct {
	UploadID   string           `json:"uploadId"`
	ChunkSize  int              `json:"chunkSize"`
	ResumeFrom map[string]int64 `json:"resumeFrom,omitempty"`
}

// UploadChunkResponse acknowledges a chunk.
type UploadChunkResponse struct {
	UploadID     string `json:"uploadId"`
	BytesWritten int64  `json:"bytesWritten"`
	TotalWritten int64  `json:"totalWritten"`
}

// CompleteUploadResponse confirms upload completion.
type CompleteUploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	AppID   uint32 `json:"appId,omitempty"`
}

// ShortcutsListResponse contains the list of shortcuts.
type ShortcutsListResponse struct {
	Shortcuts []ShortcutInfo `json:"shortcuts"`
}

// CreateShortcutResponse contains the result of shortcut creation.
type CreateShortcutResponse struct {
	AppID          uint32 `json:"appId"`
	SteamRestarted bool   `json:"steamRestarted,omitempty"`
}

// ErrorResponse contains error details.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Connection payloads

// HubConnectedRequest is sent when a Hub connects to an Agent.
type HubConnectedRequest struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform,omitempty"` // Hub platform (windows, linux, darwin)
	HubID    string `json:"hubId,omitempty"`    // Unique Hub identifier
	Token    string `json:"token,omitempty"`    // Auth token from previous pairing
}

// AgentStatusResponse is the Agent's response to a Hub connection.
type AgentStatusResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Platform          string `json:"platform"`
	AcceptConnections bool   `json:"acceptConnections"`
	TelemetryEnabled  bool   `json:"telemetryEnabled,omitempty"`
	TelemetryInterval int    `json:"telemetryInterval,omitempty"`
}

// PairingRequiredResponse is sent when a Hub needs to pair.
type PairingRequiredResponse struct {
	Code      string `json:"code"`      // 6-digit pairing code
	ExpiresIn int    `json:"expiresIn"` // Seconds until expiration
}

// PairConfirmRequest is sent by Hub to confirm pairing.
type PairConfirmRequest struct {
	Code string `json:"code"` // 6-digit code entered by user
}

// PairSuccessResponse is sent when pairing is successful.
type PairSuccessResponse struct {
	Token string `json:"token"` // Auth token for future connections
}

// PairFailedResponse is sent when pairing fails.
type PairFailedResponse struct {
	Reason string `json:"reason"` // Failure reason
}

// Config payloads

// ConfigResponse contains agent configuration.
type ConfigResponse struct {
	InstallPath       string `json:"installPath"`
	TelemetryEnabled  bool   `json:"telemetryEnabled"`
	TelemetryInterval int    `json:"telemetryInterval"`
	ConsoleLogEnabled bool   `json:"consoleLogEnabled"`
}

// Steam payloads

// SteamUser represents a Steam user (matches steam.User).
type SteamUser struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	LastLoginAt int64  `json:"lastLoginAt,omitempty"`
}

// SteamUsersResponse contains the list of Steam users.
type SteamUsersResponse struct {
	Users []SteamUser `json:"users"`
}

// DeleteGameRequest requests deletion of a game. Agent handles everything
// internally (finding the Steam user, the shortcut, and the files).
type DeleteGameRequest struct {
	AppID uint32 `json:"appId"`
}

// DeleteGameResponse contains the result of game deletion.
type DeleteGameResponse struct {
	Status         string `json:"status"`
	GameName       string `json:"gameName"`
	SteamRestarted bool   `json:"steamRestarted"`
}

// Artwork payloads

// ApplyArtworkRequest requests artwork application.
type ApplyArtworkRequest struct {
	UserID  string         `json:"userId"`
	AppID   uint32         `json:"appId"`
	Artwork *ArtworkConfig `json:"artwork"`
}

// ArtworkResponse contains artwork operation result.
type ArtworkResponse struct {
	Applied []string        `json:"applied"`
	Failed  []ArtworkFailed `json:"failed,omitempty"`
}

// ArtworkFailed represents a failed artwork application.
type ArtworkFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ArtworkImageResponse contains the result of a binary artwork image transfer.
type ArtworkImageResponse struct {
	Success     bool   `json:"success"`
	ArtworkType string `json:"artworkType"`
	Error       string `json:"error,omitempty"`
}

// Operation payloads

// OperationResult is a generic result for operations.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OperationEvent is a push notification for operation progress.
type OperationEvent struct {
	Type     string  `json:"type"`   // "install", "delete"
	Status   string  `json:"status"` // "start", "progress", "complete", "error"
	GameName string  `json:"gameName"`
	Progress float64 `json:"progress"` // 0-100
	Message  string  `json:"message,omitempty"`
}

// UploadProgressEvent is sent during upload to report progress.
type UploadProgressEvent struct {
	UploadID         string  `json:"uploadId"`
	TransferredBytes int64   `json:"transferredBytes"`
	TotalBytes       int64   `json:"totalBytes"`
	CurrentFile      string  `json:"currentFile,omitempty"`
	Percentage       float64 `json:"percentage"`
}

// Steam control payloads

// RestartSteamResponse contains the result of Steam restart.
type RestartSteamResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Telemetry / console-log push payloads

// TelemetryStatusEvent reports whether telemetry streaming is active.
type TelemetryStatusEvent struct {
	Enabled    bool `json:"enabled"`
	IntervalMs int  `json:"intervalMs"`
}

// TelemetryDataEvent carries a batch of telemetry samples plus a count of
// samples dropped because the streaming channel was full.
type TelemetryDataEvent struct {
	Samples []TelemetryData `json:"samples"`
	Dropped int             `json:"dropped"`
}

// ConsoleLogStatusEvent reports whether console log streaming is active.
type ConsoleLogStatusEvent struct {
	Enabled bool `json:"enabled"`
}

// ConsoleLogDataEvent carries a batch of console log entries.
type ConsoleLogDataEvent struct {
	Batch ConsoleLogBatch `json:"batch"`
}

// GameLogWrapperStatusEvent reports the state of the launched game's log
// wrapper process (Linux only).
type GameLogWrapperStatusEvent struct {
	Running bool   `json:"running"`
	LogPath string `json:"logPath,omitempty"`
	Error   string `json:"error,omitempty"`
}
