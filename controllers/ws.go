package controllers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"wardflow/middleware"
	"wardflow/pkg/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS handled at HTTP level; allow WS here
		return true
	},
}

type wsStartPayload struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	ConversationID *uint  `json:"conversation_id"`
}

// wsSink translates service events into the socket's JSON protocol.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) ConversationCreated(id uint) {
	_ = s.conn.WriteJSON(gin.H{"type": "saved", "conversation_id": id})
}
func (s *wsSink) Fragment(text string) {
	_ = s.conn.WriteJSON(gin.H{"type": "delta", "data": text})
}
func (s *wsSink) End() {
	_ = s.conn.WriteJSON(gin.H{"type": "done", "ok": true})
}
func (s *wsSink) Error(msg string) {
	_ = s.conn.WriteJSON(gin.H{"type": "error", "error": msg})
}

// ChatWS runs the same turn orchestration over a WebSocket.
// Client protocol (JSON messages):
//
//	-> {type: "start", message: string, conversation_id?: number}
//	-> {type: "stop"}                     (optional, cancels the stream)
//	<- {type: "saved", conversation_id: number}   (new conversations only)
//	<- {type: "delta", data: string}
//	<- {type: "done", ok: true}
//	<- {type: "error", error: string}
func ChatWS(db *gorm.DB, gateway chat.Gateway) gin.HandlerFunc {
	svc := newChatService(db, gateway)
	return func(c *gin.Context) {
		// Authenticate via ?token=JWT; browsers cannot set headers on WS.
		tokenStr := strings.TrimSpace(c.Query("token"))
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": "missing token query"})
			return
		}
		user, _, err := middleware.ParseToken(tokenStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"msg": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ws] upgrade error: %v", err)
			return
		}
		defer conn.Close()

		// Setup read limits and pong handler for keepalive
		conn.SetReadLimit(1 << 20) // 1MB
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		})

		// Read exactly one start message per connection
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[ws] read message error: %v", err)
			return
		}
		var start wsStartPayload
		if err := json.Unmarshal(msgBytes, &start); err != nil || strings.ToLower(start.Type) != "start" || strings.TrimSpace(start.Message) == "" {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "invalid start payload"})
			return
		}

		if !middleware.DuplicateGuard(user.ID, start.Message) {
			_ = conn.WriteJSON(gin.H{"type": "error", "error": "duplicate message"})
			return
		}
		release := middleware.AcquireUserSlot(user.ID)
		defer release()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		// Listen for a client stop while the stream runs; cancelling the
		// context aborts the upstream read and skips the assistant insert.
		go func() {
			for {
				if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
					return
				}
				mt, msg, err := conn.ReadMessage()
				if err != nil {
					cancel()
					return
				}
				if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
					continue
				}
				var obj struct {
					Type string `json:"type"`
				}
				_ = json.Unmarshal(msg, &obj)
				if strings.ToLower(strings.TrimSpace(obj.Type)) == "stop" {
					cancel()
					return
				}
			}
		}()

		sink := &wsSink{conn: conn}
		if _, err := svc.SendTurn(ctx, user.ID, start.ConversationID, start.Message, sink); err != nil {
			sink.Error(err.Error())
		}
	}
}
