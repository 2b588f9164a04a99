package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/riverbend-labs/agentcheck/pkg/chat"
	"github.com/riverbend-labs/agentcheck/pkg/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 60 * time.Second
)

// WSHub owns the gorilla upgrader shared by both WebSocket routes. The
// register/unregister/broadcast hub pattern itself lives in
// pkg/events.Bus (for /testing/ws/runs) and pkg/chat.Relay (for
// /chatting/ws/conversations/{id}), each of which already owns its own
// subscriber fan-out.
type WSHub struct {
	upgrader websocket.Upgrader
}

// NewWSHub builds the shared upgrader. allowedOrigins, when non-empty,
// restricts CheckOrigin to an exact match; empty allows any origin, a
// permissive default meant to be tightened in production.
func NewWSHub(allowedOrigins []string) *WSHub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WSHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// handleRunsWS implements WS /testing/ws/runs: on connect the client
// receives an immediate snapshot of every job, then a jobDelta envelope
// for every subsequent state change, per §4.E.
func (s *Server) handleRunsWS(c *gin.Context) {
	conn, err := s.wsHub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("runs websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	envelopes, unsubscribe := s.bus.Subscribe(ctx, s.jobs.Snapshot())
	defer unsubscribe()

	go readPump(conn, cancel)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			if err := writeJSON(conn, env); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleConversationWS implements WS /chatting/ws/conversations/{id}: the
// client sends one {"type":"send_message", "content":"..."} line per user
// turn, and receives the full ClientEvent stream (message/token/tool_call/
// tool_output/message_end/error) for each, per §4.G. Any other message
// type is ignored rather than rejected, leaving room for future client
// message kinds without breaking old clients.
func (s *Server) handleConversationWS(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.relay.GetConversation(id); err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}

	conn, err := s.wsHub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("conversation websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	clientEvents := make(chan chat.ClientEvent, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range clientEvents {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		var in struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			break
		}
		if in.Type != "send_message" {
			continue
		}
		s.relay.SendMessage(ctx, id, in.Content, clientEvents)
		if ctx.Err() != nil {
			break
		}
	}
	close(clientEvents)
	<-writerDone
}

// readPump drains and discards client frames on a read-only WebSocket
// route, so pong control frames are still processed and a client close
// is observed promptly.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v events.Envelope) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
