// Package agentsession owns the Agent-side state of a single Hub
// connection: the one-authorized-connection invariant, the pairing
// handshake, request dispatch, push events, and upload lifecycle tied
// to the connection's lifetime. It is transport-agnostic — Send is a
// caller-supplied function — so it can be driven by a real
// *websocket.Conn or, in tests, by a channel.
//
// Grounded on the teacher's apps/agents/desktop/server/{wsserver,wshandlers}.go,
// generalized per spec.md §9: collaborators are interface abstractions
// instead of concrete imports, and pending artwork lives on the
// UploadSession instead of a package-level map.
package agentsession

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capydeploy/capydeploy/pkg/auth"
	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/streaming"
	"github.com/capydeploy/capydeploy/pkg/transfer"
)

// UploadGracePeriod is how long an in-progress upload is kept alive
// after its owning connection drops, per spec.md §5's cancellation
// rule, before Session cancels it outright.
const UploadGracePeriod = 30 * time.Second

// SendFunc delivers an encoded text frame to the Hub. The concrete
// transport (gorilla/websocket in production, a channel in tests)
// plugs in here; Session never touches a net.Conn directly.
type SendFunc func(data []byte)

// Info reports the Agent's own identity and capabilities, wired from
// whatever builds a Session (cmd/capyagent, normally a single static
// value plus dynamic accept-connections/telemetry state).
type Info struct {
	Name              string
	Version           string
	Platform          string
	Capabilities      []protocol.Capability
	AcceptConnections func() bool
}

// Config wires a Session to its collaborators and policy.
type Config struct {
	Info        Info
	AuthManager *auth.Manager // nil disables pairing: every Hub is accepted
	Engine      *transfer.Engine
	Steam       SteamIntegration   // nil: Steam-dependent requests fail with WSErrCodeNotImplemented
	Telemetry   TelemetryProbe     // nil: telemetry requests fail the same way
	ConsoleLog  ConsoleLogSource
	GameLog     GameLogWrapper

	// OnConnect/OnDisconnect notify a host process (e.g. a tray icon)
	// of Hub connection changes. Both may be nil.
	OnConnect    func(hubID, hubName, remoteAddr string)
	OnDisconnect func()
}

// HubConnection is the single authorized-or-pending connection a
// Session tracks. Session holds an owning reference; nothing else may
// retain one, matching spec.md §9's cyclic-reference guidance.
type HubConnection struct {
	ID         string
	RemoteAddr string

	mu         sync.RWMutex
	hubID      string
	hubName    string
	hubVersion string
	authorized bool

	send SendFunc

	uploadsMu sync.Mutex
	uploads   map[string]struct{}

	closed bool
}

func newHubConnection(remoteAddr string, send SendFunc) *HubConnection {
	return &HubConnection{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		send:       send,
		uploads:    make(map[string]struct{}),
	}
}

func (c *HubConnection) markUpload(id string) {
	c.uploadsMu.Lock()
	defer c.uploadsMu.Unlock()
	c.uploads[id] = struct{}{}
}

func (c *HubConnection) forgetUpload(id string) {
	c.uploadsMu.Lock()
	defer c.uploadsMu.Unlock()
	delete(c.uploads, id)
}

func (c *HubConnection) uploadIDs() []string {
	c.uploadsMu.Lock()
	defer c.uploadsMu.Unlock()
	ids := make([]string, 0, len(c.uploads))
	for id := range c.uploads {
		ids = append(ids, id)
	}
	return ids
}

// Session is the Agent-side owner of the at-most-one authorized Hub
// connection and everything that connection drives: pairing,
// dispatch, uploads, and push-event streams.
type Session struct {
	cfg Config

	mu   sync.RWMutex
	conn *HubConnection

	telemetryRunner  *streaming.Runner[protocol.TelemetryData]
	consoleLogRunner *streaming.Runner[protocol.ConsoleLogEntry]
}

// New creates a Session. cfg.Engine must not be nil; the other
// collaborators may be, which disables the requests that need them.
func New(cfg Config) *Session {
	s := &Session{cfg: cfg}
	if cfg.Engine != nil {
		cfg.Engine.OnProgress(s.onUploadProgress)
	}
	return s
}

// Connect registers a new transport-level connection. It enforces the
// single-authorized-connection invariant: if one is already present,
// Connect returns an error the caller should translate into an HTTP
// 409 / WSErrCodeConflict before ever calling Dispatch.
func (s *Session) Connect(remoteAddr string, send SendFunc) (*HubConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil, fmt.Errorf("hub already connected")
	}

	conn := newHubConnection(remoteAddr, send)
	s.conn = conn
	return conn, nil
}

// IsConnected reports whether a Hub connection is currently held.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Disconnect tears down conn if it is still the Session's current
// connection. It is safe to call more than once or with a stale conn
// (e.g. from a reader goroutine racing a replacement connection); only
// the first call for the live connection has any effect, matching
// spec.md §5's "setting-to-nil is idempotent" rule.
//
// In-progress uploads owned by this connection are cancelled after
// UploadGracePeriod; AuthorizedHubs are left untouched so the same Hub
// token works again on reconnect.
func (s *Session) Disconnect(conn *HubConnection) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()

	conn.mu.Lock()
	conn.closed = true
	name := conn.hubName
	conn.mu.Unlock()

	log.Printf("agentsession: hub disconnected (%s)", name)

	if s.cfg.OnDisconnect != nil {
		s.cfg.OnDisconnect()
	}

	uploadIDs := conn.uploadIDs()
	if len(uploadIDs) == 0 {
		return
	}
	go func() {
		time.Sleep(UploadGracePeriod)
		if s.cfg.Engine != nil {
			s.cfg.Engine.CancelAll(uploadIDs)
		}
	}()
}

// Dispatch routes one decoded text-frame message to its handler and
// returns the reply to send, or nil if the handler already sent its
// own reply (or none is needed, e.g. a push-only path).
func (s *Session) Dispatch(conn *HubConnection, msg *protocol.Message) *protocol.Message {
	switch msg.Type {
	case protocol.MsgTypeHubConnected:
		return s.handleHubConnected(conn, msg)
	case protocol.MsgTypePairConfirm:
		return s.handlePairConfirm(conn, msg)
	case protocol.MsgTypePing:
		return msgReply(msg, protocol.MsgTypePong, nil)
	}

	if !conn.isAuthorized() {
		return msg.ReplyError(protocol.WSErrCodeUnauthorized, "hub is not authorized")
	}

	switch msg.Type {
	case protocol.MsgTypeGetInfo:
		return s.handleGetInfo(msg)
	case protocol.MsgTypeGetConfig:
		return s.handleGetConfig(msg)
	case protocol.MsgTypeGetSteamUsers:
		return s.handleGetSteamUsers(msg)
	case protocol.MsgTypeListShortcuts:
		return s.handleListShortcuts(msg)
	case protocol.MsgTypeCreateShortcut:
		return s.handleCreateShortcut(msg)
	case protocol.MsgTypeDeleteShortcut:
		return s.handleDeleteShortcut(msg)
	case protocol.MsgTypeDeleteGame:
		return s.handleDeleteGame(msg)
	case protocol.MsgTypeApplyArtwork:
		return s.handleApplyArtwork(msg)
	case protocol.MsgTypeRestartSteam:
		return s.handleRestartSteam(msg)
	case protocol.MsgTypeInitUpload:
		return s.handleInitUpload(conn, msg)
	case protocol.MsgTypeUploadChunk:
		return s.handleUploadChunk(conn, msg)
	case protocol.MsgTypeCompleteUpload:
		return s.handleCompleteUpload(conn, msg)
	case protocol.MsgTypeCancelUpload:
		return s.handleCancelUpload(conn, msg)
	case protocol.MsgTypeSetTelemetryEnabled:
		return s.handleSetTelemetryEnabled(msg)
	case protocol.MsgTypeSetTelemetryInterval:
		return s.handleSetTelemetryInterval(msg)
	case protocol.MsgTypeSetConsoleLogEnabled:
		return s.handleSetConsoleLogEnabled(msg)
	case protocol.MsgTypeSetConsoleLogFilter:
		return s.handleSetConsoleLogFilter(msg)
	case protocol.MsgTypeSetGameLogWrapper:
		return s.handleSetGameLogWrapper(msg)
	default:
		return msg.ReplyError(protocol.WSErrCodeNotImplemented, "unknown message type")
	}
}

// HandleBinaryFrame processes a decoded binary frame: either an
// upload chunk or an artwork image, depending on its header Kind.
func (s *Session) HandleBinaryFrame(conn *HubConnection, header protocol.BinaryFrameHeader, payload []byte) *protocol.Message {
	if !conn.isAuthorized() {
		return protocol.NewErrorMessage(header.ID, protocol.WSErrCodeUnauthorized, "hub is not authorized")
	}

	switch header.Kind {
	case protocol.BinaryFrameKindUploadChunk:
		return s.handleBinaryChunk(conn, header, payload)
	case protocol.BinaryFrameKindArtworkImage:
		return s.handleBinaryArtwork(conn, header, payload)
	default:
		return protocol.NewErrorMessage(header.ID, protocol.WSErrCodeBadRequest, "unknown binary frame kind")
	}
}

// Send transmits a push event (a message with no expected reply) to
// the currently connected, authorized Hub. It is a silent no-op if no
// Hub is connected — push events are best-effort.
func (s *Session) Send(msgType protocol.MessageType, payload any) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil || !conn.isAuthorized() {
		return
	}

	msg, err := protocol.NewMessage(uuid.New().String(), msgType, payload)
	if err != nil {
		log.Printf("agentsession: failed to build push event %s: %v", msgType, err)
		return
	}
	conn.sendMessage(msg)
}

// startTelemetry starts (or restarts) telemetry sampling at intervalMs
// and begins batching samples through a streaming.Runner, flushed as
// telemetry_data push events.
func (s *Session) startTelemetry(intervalMs int) error {
	if s.cfg.Telemetry == nil {
		return fmt.Errorf("telemetry not available")
	}

	s.mu.Lock()
	if s.telemetryRunner != nil {
		s.mu.Unlock()
		s.stopTelemetry()
		s.mu.Lock()
	}
	batcher := streaming.NewStreamBatcher[protocol.TelemetryData](streaming.TelemetryDepth)
	runner := streaming.NewRunner[protocol.TelemetryData](batcher, streaming.FlushInterval, func(items []protocol.TelemetryData, dropped int) {
		if len(items) == 0 && dropped == 0 {
			return
		}
		s.Send(protocol.MsgTypeTelemetryData, protocol.TelemetryDataEvent{Samples: items, Dropped: dropped})
	})
	s.telemetryRunner = runner
	s.mu.Unlock()

	if err := s.cfg.Telemetry.Start(intervalMs, runner.Push); err != nil {
		s.mu.Lock()
		s.telemetryRunner = nil
		s.mu.Unlock()
		return err
	}
	runner.Start()
	return nil
}

// stopTelemetry stops sampling and the batching runner, if either is
// active. Safe to call when telemetry was never started.
func (s *Session) stopTelemetry() {
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.Stop()
	}
	s.mu.Lock()
	runner := s.telemetryRunner
	s.telemetryRunner = nil
	s.mu.Unlock()
	if runner != nil {
		runner.Stop()
	}
}

// startConsoleLog starts streaming the console log source, batching
// entries through a streaming.Runner flushed as console_log_data events.
func (s *Session) startConsoleLog() error {
	if s.cfg.ConsoleLog == nil {
		return fmt.Errorf("console log streaming not available")
	}

	s.mu.Lock()
	if s.consoleLogRunner != nil {
		s.mu.Unlock()
		s.stopConsoleLog()
		s.mu.Lock()
	}
	batcher := streaming.NewStreamBatcher[protocol.ConsoleLogEntry](streaming.ConsoleLogDepth)
	runner := streaming.NewRunner[protocol.ConsoleLogEntry](batcher, streaming.FlushInterval, func(items []protocol.ConsoleLogEntry, dropped int) {
		if len(items) == 0 && dropped == 0 {
			return
		}
		s.Send(protocol.MsgTypeConsoleLogData, protocol.ConsoleLogDataEvent{
			Batch: protocol.ConsoleLogBatch{Entries: items, Dropped: dropped},
		})
	})
	s.consoleLogRunner = runner
	s.mu.Unlock()

	if err := s.cfg.ConsoleLog.Start(runner.Push); err != nil {
		s.mu.Lock()
		s.consoleLogRunner = nil
		s.mu.Unlock()
		return err
	}
	runner.Start()
	return nil
}

// stopConsoleLog stops the console log source and its batching runner.
// Safe to call when console log streaming was never started.
func (s *Session) stopConsoleLog() {
	if s.cfg.ConsoleLog != nil {
		s.cfg.ConsoleLog.Stop()
	}
	s.mu.Lock()
	runner := s.consoleLogRunner
	s.consoleLogRunner = nil
	s.mu.Unlock()
	if runner != nil {
		runner.Stop()
	}
}

func (c *HubConnection) isAuthorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized
}

func (c *HubConnection) sendMessage(msg *protocol.Message) {
	c.mu.RLock()
	closed := c.closed
	send := c.send
	c.mu.RUnlock()
	if closed || send == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("agentsession: marshal error: %v", err)
		return
	}
	send(data)
}

func msgReply(msg *protocol.Message, msgType protocol.MessageType, payload any) *protocol.Message {
	reply, err := msg.Reply(msgType, payload)
	if err != nil {
		return msg.ReplyError(protocol.WSErrCodeInternal, err.Error())
	}
	return reply
}
