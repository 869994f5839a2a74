package hubclient

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// GetInfo returns the Agent's identity and advertised capabilities.
func (c *Client) GetInfo(ctx context.Context) (*protocol.AgentInfo, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeGetInfo, nil)
	if err != nil {
		return nil, err
	}
	var info protocol.InfoResponse
	if err := resp.ParsePayload(&info); err != nil {
		return nil, fmt.Errorf("parse info_response: %w", err)
	}
	return &info.Agent, nil
}

// GetConfig returns the Agent's config_response. The Agent fills in only
// InstallPath; the telemetry and console-log fields are left at their
// zero values.
func (c *Client) GetConfig(ctx context.Context) (*protocol.ConfigResponse, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeGetConfig, nil)
	if err != nil {
		return nil, err
	}
	var config protocol.ConfigResponse
	if err := resp.ParsePayload(&config); err != nil {
		return nil, fmt.Errorf("parse config_response: %w", err)
	}
	return &config, nil
}

// GetSteamUsers returns Steam users known to the Agent.
func (c *Client) GetSteamUsers(ctx context.Context) ([]protocol.SteamUser, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeGetSteamUsers, nil)
	if err != nil {
		return nil, err
	}
	var result protocol.SteamUsersResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse steam_users_response: %w", err)
	}
	return result.Users, nil
}

// ListShortcuts returns shortcuts belonging to a Steam user.
func (c *Client) ListShortcuts(ctx context.Context, userID uint32) ([]protocol.ShortcutInfo, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeListShortcuts, protocol.ListShortcutsRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	var result protocol.ShortcutsListResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse shortcuts_response: %w", err)
	}
	return result.Shortcuts, nil
}

// CreateShortcut creates a Steam shortcut for userID.
func (c *Client) CreateShortcut(ctx context.Context, userID uint32, shortcut protocol.ShortcutConfig) (uint32, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeCreateShortcut, protocol.CreateShortcutRequest{
		UserID:   userID,
		Shortcut: shortcut,
	})
	if err != nil {
		return 0, err
	}
	var result protocol.CreateShortcutResponse
	if err := resp.ParsePayload(&result); err != nil {
		return 0, fmt.Errorf("parse create_shortcut result: %w", err)
	}
	return result.AppID, nil
}

// DeleteShortcut removes a shortcut without touching its installed files.
func (c *Client) DeleteShortcut(ctx context.Context, userID uint32, appID uint32, restartSteam bool) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeDeleteShortcut, protocol.DeleteShortcutRequest{
		UserID:       userID,
		AppID:        appID,
		RestartSteam: restartSteam,
	})
	return err
}

// DeleteGame removes a shortcut and its installed files; the Agent
// resolves the owning Steam user internally.
func (c *Client) DeleteGame(ctx context.Context, appID uint32) (*protocol.DeleteGameResponse, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeDeleteGame, protocol.DeleteGameRequest{AppID: appID})
	if err != nil {
		return nil, err
	}
	var result protocol.DeleteGameResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse delete_game result: %w", err)
	}
	return &result, nil
}

// ApplyArtwork applies path-based artwork to an existing shortcut.
func (c *Client) ApplyArtwork(ctx context.Context, userID string, appID uint32, artwork *protocol.ArtworkConfig) (*protocol.ArtworkResponse, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeApplyArtwork, protocol.ApplyArtworkRequest{
		UserID:  userID,
		AppID:   appID,
		Artwork: artwork,
	})
	if err != nil {
		return nil, err
	}
	var result protocol.ArtworkResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse artwork_response: %w", err)
	}
	return &result, nil
}

// SendArtworkImage sends a binary artwork image. appID 0 buffers the
// image on the Agent until the upload it belongs to completes.
func (c *Client) SendArtworkImage(ctx context.Context, appID uint32, uploadID, artworkType, contentType string, data []byte) error {
	msgID := uuid.New().String()
	resp, err := c.binaryFrame(ctx, msgID, protocol.BinaryFrameHeader{
		Kind:        protocol.BinaryFrameKindArtworkImage,
		UploadID:    uploadID,
		AppID:       appID,
		ArtworkType: artworkType,
		ContentType: contentType,
	}, data, protocol.WSRequestTimeout)
	if err != nil {
		return err
	}

	var result protocol.ArtworkImageResponse
	if err := resp.ParsePayload(&result); err != nil {
		return fmt.Errorf("parse artwork_image_response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("artwork apply failed: %s", result.Error)
	}
	return nil
}

// RestartSteam restarts the Steam client on the Agent's machine.
func (c *Client) RestartSteam(ctx context.Context) (*protocol.RestartSteamResponse, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeRestartSteam, nil)
	if err != nil {
		return nil, err
	}
	var result protocol.RestartSteamResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse steam_response: %w", err)
	}
	return &result, nil
}

// InitUpload starts a new upload session.
func (c *Client) InitUpload(ctx context.Context, config protocol.UploadConfig, totalSize int64, files []protocol.FileEntry) (*protocol.InitUploadResponse, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeInitUpload, protocol.InitUploadRequest{
		Config:    config,
		TotalSize: totalSize,
		Files:     files,
	})
	if err != nil {
		return nil, err
	}
	var result protocol.InitUploadResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse upload_init_response: %w", err)
	}
	return &result, nil
}

// UploadChunk sends one file chunk as a binary frame.
func (c *Client) UploadChunk(ctx context.Context, uploadID, filePath string, offset int64, data []byte, checksum string) error {
	msgID := uuid.New().String()
	_, err := c.binaryFrame(ctx, msgID, protocol.BinaryFrameHeader{
		Kind:     protocol.BinaryFrameKindUploadChunk,
		UploadID: uploadID,
		FilePath: filePath,
		Offset:   offset,
		Checksum: checksum,
	}, data, protocol.WSRequestTimeout)
	return err
}

// CompleteUpload finalizes an upload, optionally creating a shortcut
// for it in the same round trip.
func (c *Client) CompleteUpload(ctx context.Context, uploadID string, createShortcut bool, shortcut *protocol.ShortcutConfig) (*protocol.CompleteUploadResponse, error) {
	resp, err := c.sendRequest(ctx, protocol.MsgTypeCompleteUpload, protocol.CompleteUploadRequest{
		UploadID:       uploadID,
		CreateShortcut: createShortcut,
		Shortcut:       shortcut,
	})
	if err != nil {
		return nil, err
	}
	var result protocol.CompleteUploadResponse
	if err := resp.ParsePayload(&result); err != nil {
		return nil, fmt.Errorf("parse complete_upload result: %w", err)
	}
	return &result, nil
}

// CancelUpload aborts an in-progress upload.
func (c *Client) CancelUpload(ctx context.Context, uploadID string) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeCancelUpload, protocol.CancelUploadRequest{UploadID: uploadID})
	return err
}

// SetTelemetryEnabled toggles telemetry streaming.
func (c *Client) SetTelemetryEnabled(ctx context.Context, enabled bool, intervalMs int) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeSetTelemetryEnabled, protocol.SetTelemetryEnabledRequest{
		Enabled:    enabled,
		IntervalMs: intervalMs,
	})
	return err
}

// SetTelemetryInterval changes the sampling interval of already-enabled
// telemetry streaming.
func (c *Client) SetTelemetryInterval(ctx context.Context, intervalMs int) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeSetTelemetryInterval, protocol.SetTelemetryIntervalRequest{IntervalMs: intervalMs})
	return err
}

// SetConsoleLogEnabled toggles console log streaming.
func (c *Client) SetConsoleLogEnabled(ctx context.Context, enabled bool) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeSetConsoleLogEnabled, protocol.SetConsoleLogEnabledRequest{Enabled: enabled})
	return err
}

// SetConsoleLogFilter narrows console log streaming to lines containing
// substring (empty clears the filter).
func (c *Client) SetConsoleLogFilter(ctx context.Context, substring string) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeSetConsoleLogFilter, protocol.SetConsoleLogFilterRequest{Substring: substring})
	return err
}

// SetGameLogWrapper enables or disables the per-launch game log wrapper
// for a Steam shortcut.
func (c *Client) SetGameLogWrapper(ctx context.Context, appID uint32, enabled bool) error {
	_, err := c.sendRequest(ctx, protocol.MsgTypeSetGameLogWrapper, protocol.SetGameLogWrapperRequest{
		AppID:   appID,
		Enabled: enabled,
	})
	return err
}
