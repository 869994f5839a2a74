package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		msgType MessageType
		payload any
		wantErr bool
	}{
		{
			name:    "simple ping message",
			id:      "msg-1",
			msgType: MsgTypePing,
			payload: nil,
			wantErr: false,
		},
		{
			name:    "message with payload",
			id:      "msg-2",
			msgType: MsgTypeGetInfo,
			payload: map[string]string{"key": "value"},
			wantErr: false,
		},
		{
			name:    "init upload request",
			id:      "msg-3",
			msgType: MsgTypeInitUpload,
			payload: InitUploadRequest{
				Config:    UploadConfig{GameName: "Test"},
				TotalSize: 1024,
				Files:     []FileEntry{{RelativePath: "game.exe", Size: 1024}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.id, tt.msgType, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if msg == nil {
				t.Fatal("NewMessage() returned nil")
			}
			if msg.ID != tt.id {
				t.Errorf("Message.ID = %q, want %q", msg.ID, tt.id)
			}
			if msg.Type != tt.msgType {
				t.Errorf("Message.Type = %q, want %q", msg.Type, tt.msgType)
			}
		})
	}
}

func TestMessage_ParsePayload(t *testing.T) {
	original := InitUploadRequest{
		Config: UploadConfig{
			GameName:    "Test Game",
			InstallPath: "/games/test",
		},
		TotalSize: 2048,
		Files:     []FileEntry{{RelativePath: "data.bin", Size: 2048}},
	}

	msg, err := NewMessage("test-id", MsgTypeInitUpload, original)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	var parsed InitUploadRequest
	if err := msg.ParsePayload(&parsed); err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}

	if parsed.Config.GameName != original.Config.GameName {
		t.Errorf("GameName = %q, want %q", parsed.Config.GameName, original.Config.GameName)
	}
	if parsed.TotalSize != original.TotalSize {
		t.Errorf("TotalSize = %d, want %d", parsed.TotalSize, original.TotalSize)
	}
	if len(parsed.Files) != 1 || parsed.Files[0].RelativePath != "data.bin" {
		t.Errorf("Files = %+v, want one entry for data.bin", parsed.Files)
	}
}

func TestMessage_ParsePayload_NilPayload(t *testing.T) {
	msg := &Message{
		ID:      "test",
		Type:    MsgTypePing,
		Payload: nil,
	}

	var result map[string]string
	if err := msg.ParsePayload(&result); err != nil {
		t.Errorf("ParsePayload() with nil payload should not error, got %v", err)
	}
}

func TestMessageType_Constants(t *testing.T) {
	requestTypes := []MessageType{
		MsgTypeHubConnected,
		MsgTypePing,
		MsgTypeGetInfo,
		MsgTypeGetConfig,
		MsgTypeGetSteamUsers,
		MsgTypeListShortcuts,
		MsgTypeCreateShortcut,
		MsgTypeDeleteShortcut,
		MsgTypeDeleteGame,
		MsgTypeApplyArtwork,
		MsgTypeSendArtworkImage,
		MsgTypeRestartSteam,
		MsgTypeInitUpload,
		MsgTypeUploadChunk,
		MsgTypeCompleteUpload,
		MsgTypeCancelUpload,
		MsgTypeSetTelemetryEnabled,
		MsgTypeSetConsoleLogEnabled,
	}

	for _, mt := range requestTypes {
		if mt == "" {
			t.Error("Request MessageType should not be empty")
		}
	}

	responseTypes := []MessageType{
		MsgTypeAgentStatus,
		MsgTypePong,
		MsgTypeInfoResponse,
		MsgTypeConfigResponse,
		MsgTypeSteamUsersResponse,
		MsgTypeShortcutsResponse,
		MsgTypeArtworkResponse,
		MsgTypeArtworkImageResponse,
		MsgTypeSteamResponse,
		MsgTypeUploadInitResponse,
		MsgTypeUploadChunkResponse,
		MsgTypeOperationResult,
		MsgTypeError,
		MsgTypeUploadProgress,
		MsgTypeOperationEvent,
		MsgTypeTelemetryStatus,
		MsgTypeTelemetryData,
		MsgTypeConsoleLogStatus,
		MsgTypeConsoleLogData,
		MsgTypeGameLogWrapperStatus,
	}

	for _, mt := range responseTypes {
		if mt == "" {
			t.Error("Response MessageType should not be empty")
		}
	}
}

func TestUploadChunkRequest_Serialization(t *testing.T) {
	req := UploadChunkRequest{
		UploadID: "upload-123",
		FilePath: "game/data.bin",
		Offset:   1024,
		Size:     4096,
		Checksum: "deadbeef",
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed UploadChunkRequest
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if parsed.UploadID != req.UploadID {
		t.Errorf("UploadID = %q, want %q", parsed.UploadID, req.UploadID)
	}
	if parsed.Offset != req.Offset {
		t.Errorf("Offset = %d, want %d", parsed.Offset, req.Offset)
	}
	if parsed.Checksum != req.Checksum {
		t.Errorf("Checksum = %q, want %q", parsed.Checksum, req.Checksum)
	}
}

func TestErrorResponse_Fields(t *testing.T) {
	resp := ErrorResponse{
		Code:    "upload_failed",
		Message: "upload failed",
		Details: "disk full",
	}

	if resp.Code != "upload_failed" {
		t.Errorf("Code = %q, want %q", resp.Code, "upload_failed")
	}
	if resp.Message != "upload failed" {
		t.Errorf("Message = %q, want %q", resp.Message, "upload failed")
	}
	if resp.Details != "disk full" {
		t.Errorf("Details = %q, want %q", resp.Details, "disk full")
	}
}

func TestCreateShortcutRequest_Serialization(t *testing.T) {
	req := CreateShortcutRequest{
		UserID: 12345,
		Shortcut: ShortcutConfig{
			Name:     "Test Game",
			Exe:      "/path/to/game",
			StartDir: "/path/to",
			Tags:     []string{"action"},
		},
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var parsed CreateShortcutRequest
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if parsed.UserID != req.UserID {
		t.Errorf("UserID = %d, want %d", parsed.UserID, req.UserID)
	}
	if parsed.Shortcut.Name != req.Shortcut.Name {
		t.Errorf("Shortcut.Name = %q, want %q", parsed.Shortcut.Name, req.Shortcut.Name)
	}
}

func TestMessageReplyPreservesID(t *testing.T) {
	req, err := NewMessage("req-1", MsgTypeGetInfo, nil)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	reply, err := req.Reply(MsgTypeInfoResponse, InfoResponse{Agent: AgentInfo{ID: "agent-1"}})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if reply.ID != req.ID {
		t.Errorf("Reply().ID = %q, want %q", reply.ID, req.ID)
	}
	if reply.Type != MsgTypeInfoResponse {
		t.Errorf("Reply().Type = %q, want %q", reply.Type, MsgTypeInfoResponse)
	}
}

func TestMessageReplyErrorSetsError(t *testing.T) {
	req, err := NewMessage("req-2", MsgTypeInitUpload, nil)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	errMsg := req.ReplyError(WSErrCodeConflict, "hub already connected")
	if errMsg.ID != req.ID {
		t.Errorf("ReplyError().ID = %q, want %q", errMsg.ID, req.ID)
	}
	if errMsg.Type != MsgTypeError {
		t.Errorf("ReplyError().Type = %q, want %q", errMsg.Type, MsgTypeError)
	}
	if errMsg.Error == nil || errMsg.Error.Code != WSErrCodeConflict {
		t.Fatalf("ReplyError().Error = %+v, want code %d", errMsg.Error, WSErrCodeConflict)
	}
}

func TestUploadProgressPercentage(t *testing.T) {
	p := UploadProgress{TotalBytes: 200, TransferredBytes: 50}
	if got, want := p.Percentage(), 25.0; got != want {
		t.Errorf("Percentage() = %v, want %v", got, want)
	}

	zero := UploadProgress{}
	if got := zero.Percentage(); got != 0 {
		t.Errorf("Percentage() with zero total = %v, want 0", got)
	}
}

func TestAgentInfoHasCapability(t *testing.T) {
	info := AgentInfo{Capabilities: []Capability{CapFileUpload, CapTelemetry}}

	if !info.HasCapability(CapFileUpload) {
		t.Error("HasCapability(CapFileUpload) = false, want true")
	}
	if info.HasCapability(CapSteamArtwork) {
		t.Error("HasCapability(CapSteamArtwork) = true, want false")
	}
}
