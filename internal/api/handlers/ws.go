package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Websocket event names.
const (
	EventInitializeChat  = "initialize_chat"
	EventChatInitialized = "chat_initialized"
	EventSendMessage     = "send_message"
	EventReceiveMessage  = "receive_message"
	EventError           = "error"
)

const (
	welcomeMessage = "Welcome to the chat!"
	wsWriteWait    = 10 * time.Second
	wsMaxMessage   = 64 << 10
)

// Envelope frames every websocket message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ChatSocket struct {
	chat     Chatter
	upgrader websocket.Upgrader
}

// NewChatSocket serves the chat event channel. allowedOrigins follows the
// CORS list; "*" accepts any origin.
func NewChatSocket(chat Chatter, allowedOrigins []string) *ChatSocket {
	return &ChatSocket{
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Serve upgrades the request. Each connection is one session; events are
// handled in arrival order and replies go to this connection only.
func (s *ChatSocket) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	ctx := r.Context()
	sessionID := uuid.NewString()
	key := sessionKey(ctx, sessionID)
	log := slog.With("session_id", sessionID)
	log.Info("chat connected", "remote", r.RemoteAddr)

	defer func() {
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.chat.End(clearCtx, key); err != nil {
			log.Warn("clear chat history failed", "error", err)
		}
		log.Info("chat disconnected")
	}()

	for {
		var in Envelope
		if err := conn.ReadJSON(&in); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				if werr := send(conn, EventError, map[string]string{"error": "malformed event"}); werr != nil {
					return
				}
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", "error", err)
			}
			return
		}

		var err error
		switch in.Event {
		case EventInitializeChat:
			err = send(conn, EventChatInitialized, map[string]string{
				"message":    welcomeMessage,
				"session_id": sessionID,
			})
		case EventSendMessage:
			err = s.handleMessage(ctx, conn, key, in.Data)
		default:
			err = send(conn, EventError, map[string]string{"error": "unknown event " + in.Event})
		}
		if err != nil {
			log.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func (s *ChatSocket) handleMessage(ctx context.Context, conn *websocket.Conn, key string, data json.RawMessage) error {
	var msg struct {
		Message string `json:"message"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return send(conn, EventReceiveMessage, map[string]string{"error": "invalid message payload"})
		}
	}
	if strings.TrimSpace(msg.Message) == "" {
		return send(conn, EventReceiveMessage, map[string]string{"error": "message required"})
	}

	resp, err := s.chat.Send(ctx, key, msg.Message)
	if err != nil {
		slog.Error("chat answer failed", "error", err)
		return send(conn, EventReceiveMessage, map[string]string{"error": err.Error()})
	}
	return send(conn, EventReceiveMessage, map[string]string{"message": resp.Answer})
}

func send(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(Envelope{Event: event, Data: raw})
}
