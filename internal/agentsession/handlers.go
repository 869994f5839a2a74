package agentsession

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// handleHubConnected implements the three-branch handshake of spec.md
// §6's message catalog: auth disabled accepts unconditionally, a
// valid token accepts immediately, and anything else starts pairing.
func (s *Session) handleHubConnected(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	var req protocol.HubConnectedRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	conn.mu.Lock()
	conn.hubID = req.HubID
	conn.hubName = req.Name
	conn.hubVersion = req.Version
	conn.mu.Unlock()

	log.Printf("agentsession: hub connected: %s v%s (id=%s)", req.Name, req.Version, req.HubID)

	if s.cfg.AuthManager == nil {
		return s.acceptHub(conn, msg)
	}

	if req.Token != "" && req.HubID != "" && s.cfg.AuthManager.ValidateToken(req.HubID, req.Token) {
		log.Printf("agentsession: hub %s authenticated with valid token", req.Name)
		return s.acceptHub(conn, msg)
	}

	if req.HubID == "" {
		return msg.ReplyError(protocol.WSErrCodeUnauthorized, "hub_id required for pairing")
	}

	code, err := s.cfg.AuthManager.GenerateCode(req.HubID, req.Name, req.Platform)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}

	log.Printf("agentsession: pairing required for hub %s", req.Name)
	return msgReply(msg, protocol.MsgTypePairingRequired, protocol.PairingRequiredResponse{
		Code:      code,
		ExpiresIn: 60,
	})
}

// acceptHub completes the handshake: marks the connection authorized,
// replies with agent_status, and notifies OnConnect.
func (s *Session) acceptHub(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	conn.mu.Lock()
	conn.authorized = true
	hubID, hubName := conn.hubID, conn.hubName
	conn.mu.Unlock()

	resp := msgReply(msg, protocol.MsgTypeAgentStatus, s.agentStatus())

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(hubID, hubName, conn.RemoteAddr)
	}

	return resp
}

func (s *Session) agentStatus() protocol.AgentStatusResponse {
	status := protocol.AgentStatusResponse{
		Name:              s.cfg.Info.Name,
		Version:           s.cfg.Info.Version,
		Platform:          s.cfg.Info.Platform,
		AcceptConnections: true,
	}
	if s.cfg.Info.AcceptConnections != nil {
		status.AcceptConnections = s.cfg.Info.AcceptConnections()
	}
	return status
}

// handlePairConfirm validates a pairing code and, on success, marks
// the connection authorized and issues a token.
func (s *Session) handlePairConfirm(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	var req protocol.PairConfirmRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	if s.cfg.AuthManager == nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, "auth not configured")
	}

	conn.mu.RLock()
	hubID, hubName := conn.hubID, conn.hubName
	conn.mu.RUnlock()

	token, err := s.cfg.AuthManager.ValidateCode(hubID, hubName, req.Code)
	if err != nil {
		return msgReply(msg, protocol.MsgTypePairFailed, protocol.PairFailedResponse{Reason: err.Error()})
	}

	resp := msgReply(msg, protocol.MsgTypePairSuccess, protocol.PairSuccessResponse{Token: token})

	conn.mu.Lock()
	conn.authorized = true
	conn.mu.Unlock()

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(hubID, hubName, conn.RemoteAddr)
	}

	return resp
}

func (s *Session) handleGetInfo(msg *protocol.Message) *protocol.Message {
	return msgReply(msg, protocol.MsgTypeInfoResponse, protocol.InfoResponse{
		Agent: protocol.AgentInfo{
			Name:              s.cfg.Info.Name,
			Platform:          s.cfg.Info.Platform,
			Version:           s.cfg.Info.Version,
			AcceptConnections: s.agentStatus().AcceptConnections,
			Capabilities:      s.cfg.Info.Capabilities,
		},
	})
}

func (s *Session) handleGetConfig(msg *protocol.Message) *protocol.Message {
	installPath := ""
	if s.cfg.Engine != nil {
		installPath = s.cfg.Engine.InstallBase()
	}
	return msgReply(msg, protocol.MsgTypeConfigResponse, protocol.ConfigResponse{
		InstallPath: installPath,
	})
}

func (s *Session) handleGetSteamUsers(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	users, err := s.cfg.Steam.Users()
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	return msgReply(msg, protocol.MsgTypeSteamUsersResponse, protocol.SteamUsersResponse{Users: users})
}

func (s *Session) handleListShortcuts(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	var req protocol.ListShortcutsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}
	list, err := s.cfg.Steam.ListShortcuts(userIDString(req.UserID))
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	return msgReply(msg, protocol.MsgTypeShortcutsResponse, protocol.ShortcutsListResponse{Shortcuts: list})
}

func (s *Session) handleCreateShortcut(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	var req protocol.CreateShortcutRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}
	appID, err := s.cfg.Steam.CreateShortcut(userIDString(req.UserID), req.Shortcut)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.CreateShortcutResponse{AppID: appID})
}

// handleDeleteShortcut implements spec.md §9's distinction: delete_shortcut
// removes the shortcut only, leaving any installed files untouched.
func (s *Session) handleDeleteShortcut(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	var req protocol.DeleteShortcutRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{Type: "delete", Status: "start"})

	if err := s.cfg.Steam.DeleteShortcut(userIDString(req.UserID), req.AppID); err != nil {
		s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{Type: "delete", Status: "error", Message: err.Error()})
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}

	s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{Type: "delete", Status: "complete", Progress: 100})
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true, Message: "deleted"})
}

// handleDeleteGame implements spec.md §9's distinction: delete_game
// removes the shortcut AND its installed files; the Agent resolves
// the owning Steam user internally, the Hub need not know it.
func (s *Session) handleDeleteGame(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	var req protocol.DeleteGameRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{Type: "delete", Status: "start"})

	gameName, err := s.cfg.Steam.DeleteGame(req.AppID)
	if err != nil {
		s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{Type: "delete", Status: "error", Message: err.Error()})
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}

	s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{Type: "delete", Status: "complete", GameName: gameName, Progress: 100})
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.DeleteGameResponse{
		Status:   "deleted",
		GameName: gameName,
	})
}

func (s *Session) handleApplyArtwork(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	var req protocol.ApplyArtworkRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	applied, failed, err := s.cfg.Steam.ApplyArtwork(req.UserID, req.AppID, req.Artwork)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	return msgReply(msg, protocol.MsgTypeArtworkResponse, protocol.ArtworkResponse{Applied: applied, Failed: failed})
}

func (s *Session) handleRestartSteam(msg *protocol.Message) *protocol.Message {
	if s.cfg.Steam == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	success, message := s.cfg.Steam.RestartSteam()
	return msgReply(msg, protocol.MsgTypeSteamResponse, protocol.RestartSteamResponse{Success: success, Message: message})
}

func (s *Session) handleInitUpload(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	if s.cfg.Engine == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "upload engine not available")
	}
	var req protocol.InitUploadRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}
	if req.Config.GameName == "" {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "gameName is required")
	}

	files := make([]transfer.FileEntry, len(req.Files))
	for i, f := range req.Files {
		files[i] = transfer.FileEntry{RelativePath: f.RelativePath, Size: f.Size}
	}

	session, err := s.cfg.Engine.Create(req.Config, req.TotalSize, files)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, err.Error())
	}
	conn.markUpload(session.ID)

	log.Printf("agentsession: upload session created: %s for %q (%d bytes, %d files)",
		session.ID, req.Config.GameName, req.TotalSize, len(req.Files))

	s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type: "install", Status: "start", GameName: req.Config.GameName,
	})

	return msgReply(msg, protocol.MsgTypeUploadInitResponse, protocol.InitUploadResponse{
		UploadID:   session.ID,
		ChunkSize:  s.cfg.Engine.ChunkSize(),
		ResumeFrom: session.ResumeOffsets(),
	})
}

func (s *Session) handleUploadChunk(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	var req protocol.UploadChunkRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}
	return s.writeChunk(msg, req.UploadID, req.FilePath, req.Offset, req.Data, req.Checksum)
}

func (s *Session) handleBinaryChunk(conn *HubConnection, header protocol.BinaryFrameHeader, data []byte) *protocol.Message {
	return s.writeChunk(&protocol.Message{ID: header.ID}, header.UploadID, header.FilePath, header.Offset, data, header.Checksum)
}

func (s *Session) writeChunk(msg *protocol.Message, uploadID, filePath string, offset int64, data []byte, checksum string) *protocol.Message {
	if s.cfg.Engine == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "upload engine not available")
	}

	written, err := s.cfg.Engine.WriteChunk(uploadID, filePath, offset, data, checksum)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}

	return msgReply(msg, protocol.MsgTypeUploadChunkResponse, protocol.UploadChunkResponse{
		UploadID:     uploadID,
		BytesWritten: int64(len(data)),
		TotalWritten: written,
	})
}

func (s *Session) onUploadProgress(session *transfer.UploadSession) {
	progress := session.Progress()
	s.Send(protocol.MsgTypeUploadProgress, protocol.UploadProgressEvent{
		UploadID:         progress.UploadID,
		TransferredBytes: progress.TransferredBytes,
		TotalBytes:       progress.TotalBytes,
		CurrentFile:      progress.CurrentFile,
		Percentage:       progress.Percentage(),
	})
}

func (s *Session) handleCompleteUpload(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	if s.cfg.Engine == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "upload engine not available")
	}
	var req protocol.CompleteUploadRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	session, err := s.cfg.Engine.Complete(req.UploadID)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeNotFound, err.Error())
	}
	conn.forgetUpload(req.UploadID)
	defer s.cfg.Engine.Remove(req.UploadID)

	gamePath := s.cfg.Engine.GameDir(session.Config.GameName)
	s.Send(protocol.MsgTypeOperationEvent, protocol.OperationEvent{
		Type: "install", Status: "complete", GameName: session.Config.GameName, Progress: 100,
	})

	resp := protocol.CompleteUploadResponse{Success: true, Path: gamePath}

	pending := session.DrainPendingArtwork()

	if req.CreateShortcut && req.Shortcut != nil && s.cfg.Steam != nil {
		shortcutCfg := *req.Shortcut
		exeName := filepath.Base(shortcutCfg.Exe)
		if exeName == "" || exeName == "." {
			exeName = session.Config.Executable
		}
		shortcutCfg.Exe = filepath.Join(gamePath, exeName)
		shortcutCfg.StartDir = gamePath

		appID, err := s.cfg.Steam.CreateShortcut("", shortcutCfg)
		if err != nil {
			log.Printf("agentsession: warning: failed to create shortcut: %v", err)
		} else {
			resp.AppID = appID
			for _, img := range pending {
				if err := s.cfg.Steam.ApplyArtworkImage(appID, img.ArtworkType, img.Data, img.ContentType); err != nil {
					log.Printf("agentsession: warning: failed to apply pending artwork %s: %v", img.ArtworkType, err)
				}
			}
		}
	}

	if runtime.GOOS != "windows" && session.Config.Executable != "" {
		exePath := filepath.Join(gamePath, session.Config.Executable)
		if info, statErr := os.Stat(exePath); statErr == nil {
			_ = os.Chmod(exePath, info.Mode()|0o111)
		}
	}

	return msgReply(msg, protocol.MsgTypeOperationResult, resp)
}

func (s *Session) handleCancelUpload(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	if s.cfg.Engine == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "upload engine not available")
	}
	var req protocol.CancelUploadRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	if err := s.cfg.Engine.Cancel(req.UploadID); err != nil {
		return msg.ReplyError(protocol.WSErrCodeNotFound, err.Error())
	}
	conn.forgetUpload(req.UploadID)
	s.cfg.Engine.Remove(req.UploadID)

	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true, Message: "cancelled"})
}

// handleBinaryArtwork applies or buffers a binary artwork image. An
// app_id of 0 means the shortcut doesn't exist yet (upload still in
// progress); the image is buffered on the relevant UploadSession and
// applied at complete_upload, per spec.md's pending-artwork rule.
func (s *Session) handleBinaryArtwork(conn *HubConnection, header protocol.BinaryFrameHeader, data []byte) *protocol.Message {
	if header.AppID == 0 {
		if s.cfg.Engine != nil && header.UploadID != "" {
			if session, err := s.cfg.Engine.Session(header.UploadID); err == nil {
				session.AddPendingArtwork(transfer.PendingArtworkImage{
					ArtworkType: header.ArtworkType,
					ContentType: header.ContentType,
					Data:        data,
				})
			}
		}
		resp, _ := protocol.NewMessage(header.ID, protocol.MsgTypeArtworkImageResponse, protocol.ArtworkImageResponse{
			Success:     true,
			ArtworkType: header.ArtworkType,
		})
		return resp
	}

	if s.cfg.Steam == nil {
		return protocol.NewErrorMessage(header.ID, protocol.WSErrCodeNotImplemented, "steam integration not available")
	}
	if err := s.cfg.Steam.ApplyArtworkImage(header.AppID, header.ArtworkType, data, header.ContentType); err != nil {
		resp, _ := protocol.NewMessage(header.ID, protocol.MsgTypeArtworkImageResponse, protocol.ArtworkImageResponse{
			Success: false, ArtworkType: header.ArtworkType, Error: err.Error(),
		})
		return resp
	}
	resp, _ := protocol.NewMessage(header.ID, protocol.MsgTypeArtworkImageResponse, protocol.ArtworkImageResponse{
		Success: true, ArtworkType: header.ArtworkType,
	})
	return resp
}

func (s *Session) handleSetTelemetryEnabled(msg *protocol.Message) *protocol.Message {
	if s.cfg.Telemetry == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "telemetry not available")
	}
	var req protocol.SetTelemetryEnabledRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	if !req.Enabled {
		s.stopTelemetry()
		s.Send(protocol.MsgTypeTelemetryStatus, protocol.TelemetryStatusEvent{Enabled: false})
		return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
	}

	if err := s.startTelemetry(req.IntervalMs); err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	s.Send(protocol.MsgTypeTelemetryStatus, protocol.TelemetryStatusEvent{Enabled: true, IntervalMs: req.IntervalMs})
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
}

func (s *Session) handleSetTelemetryInterval(msg *protocol.Message) *protocol.Message {
	if s.cfg.Telemetry == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "telemetry not available")
	}
	var req protocol.SetTelemetryIntervalRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}
	if err := s.cfg.Telemetry.SetInterval(req.IntervalMs); err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
}

func (s *Session) handleSetConsoleLogEnabled(msg *protocol.Message) *protocol.Message {
	if s.cfg.ConsoleLog == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "console log streaming not available")
	}
	var req protocol.SetConsoleLogEnabledRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	if !req.Enabled {
		s.stopConsoleLog()
		s.Send(protocol.MsgTypeConsoleLogStatus, protocol.ConsoleLogStatusEvent{Enabled: false})
		return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
	}

	if err := s.startConsoleLog(); err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	s.Send(protocol.MsgTypeConsoleLogStatus, protocol.ConsoleLogStatusEvent{Enabled: true})
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
}

func (s *Session) handleSetConsoleLogFilter(msg *protocol.Message) *protocol.Message {
	if s.cfg.ConsoleLog == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "console log streaming not available")
	}
	var req protocol.SetConsoleLogFilterRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}
	s.cfg.ConsoleLog.SetFilter(req.Substring)
	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
}

func (s *Session) handleSetGameLogWrapper(msg *protocol.Message) *protocol.Message {
	if s.cfg.GameLog == nil {
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "game log wrapper not available")
	}
	var req protocol.SetGameLogWrapperRequest
	if err := msg.ParsePayload(&req); err != nil {
		return msg.ReplyError(protocol.WSErrCodeBadRequest, "invalid payload")
	}

	var err error
	if req.Enabled {
		err = s.cfg.GameLog.Enable(req.AppID)
	} else {
		err = s.cfg.GameLog.Disable(req.AppID)
	}
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}

	running, logPath, statusErr := s.cfg.GameLog.Status()
	event := protocol.GameLogWrapperStatusEvent{Running: running, LogPath: logPath}
	if statusErr != nil {
		event.Error = statusErr.Error()
	}
	s.Send(protocol.MsgTypeGameLogWrapperStatus, event)

	return msgReply(msg, protocol.MsgTypeOperationResult, protocol.OperationResult{Success: true})
}

func userIDString(userID uint32) string {
	return strconv.FormatUint(uint64(userID), 10)
}
