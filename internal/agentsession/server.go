package agentsession

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// Server exposes a Session as an http.Handler, upgrading inbound
// requests to WebSocket connections. Grounded on the teacher's
// apps/agents/desktop/server/wsserver.go; Session owns the
// one-connection invariant and dispatch, Server owns only the
// transport (upgrade, read/write pumps, frame (de)coding).
type Server struct {
	session  *Session
	upgrader websocket.Upgrader

	// AcceptConnections, if set, gates new connections independently of
	// Session's own authorization state (e.g. a user-facing "pause
	// incoming connections" toggle in a tray app).
	AcceptConnections func() bool
}

// NewServer creates a Server over an existing Session.
func NewServer(session *Session) *Server {
	return &Server{
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket connection, rejecting a
// second concurrent Hub with 409 per spec.md §4.5.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.AcceptConnections != nil && !s.AcceptConnections() {
		http.Error(w, "connections not accepted", http.StatusServiceUnavailable)
		return
	}
	if s.session.IsConnected() {
		http.Error(w, "hub already connected", http.StatusConflict)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("agentsession: upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	remoteAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteAddr = host
	}

	sendCh := make(chan []byte, 256)
	closeCh := make(chan struct{})

	conn, err := s.session.Connect(remoteAddr, func(data []byte) {
		select {
		case sendCh <- data:
		default:
			log.Printf("agentsession: send buffer full, dropping message")
		}
	})
	if err != nil {
		wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub already connected"))
		wsConn.Close()
		return
	}

	go s.writePump(wsConn, sendCh, closeCh)
	s.readPump(wsConn, conn, closeCh)
}

func (s *Server) readPump(wsConn *websocket.Conn, conn *HubConnection, closeCh chan struct{}) {
	defer func() {
		close(closeCh)
		wsConn.Close()
		s.session.Disconnect(conn)
	}()

	wsConn.SetReadLimit(protocol.WSMaxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(protocol.WSDeadPeerTimeout))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(protocol.WSDeadPeerTimeout))
		return nil
	})

	for {
		messageType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("agentsession: read error: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			s.handleText(conn, data)
		case websocket.BinaryMessage:
			s.handleBinary(conn, data)
		}
	}
}

func (s *Server) writePump(wsConn *websocket.Conn, sendCh chan []byte, closeCh chan struct{}) {
	ticker := time.NewTicker(protocol.WSHeartbeatInterval)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case data := <-sendCh:
			wsConn.SetWriteDeadline(time.Now().Add(protocol.WSWriteWait))
			if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("agentsession: write error: %v", err)
				return
			}
		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(protocol.WSWriteWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closeCh:
			return
		}
	}
}

func (s *Server) handleText(conn *HubConnection, data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("agentsession: invalid message: %v", err)
		conn.sendMessage(protocol.NewErrorMessage("", protocol.WSErrCodeBadRequest, "invalid message format"))
		return
	}

	reply := s.session.Dispatch(conn, &msg)
	if reply != nil {
		conn.sendMessage(reply)
	}
}

func (s *Server) handleBinary(conn *HubConnection, data []byte) {
	header, payload, err := protocol.DecodeBinaryFrame(data)
	if err != nil {
		log.Printf("agentsession: invalid binary frame: %v", err)
		return
	}

	reply := s.session.HandleBinaryFrame(conn, header, payload)
	if reply != nil {
		conn.sendMessage(reply)
	}
}
