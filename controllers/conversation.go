package controllers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"wardflow/middleware"
	"wardflow/models"
	"wardflow/pkg/chat"
	"wardflow/pkg/config"
	"wardflow/pkg/stream"
)

type turnBody struct {
	Message        string `json:"message"`
	ConversationID *uint  `json:"conversation_id"`
}

func newChatService(db *gorm.DB, gateway chat.Gateway) *chat.Service {
	return chat.NewService(chat.NewGormStore(db), gateway, chat.Options{
		HistoryLimit:    config.ChatHistoryLimit,
		MaxMessageChars: config.ChatMaxMessageChars,
		StreamTimeout:   time.Duration(config.ChatStreamTimeoutSeconds) * time.Second,
	})
}

// currentUserRecord resolves the authenticated identity to its user row.
func currentUserRecord(c *gin.Context, db *gorm.DB) (middleware.AuthenticatedUser, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"msg": "not authenticated"})
		return middleware.AuthenticatedUser{}, false
	}
	var row models.User
	if err := db.First(&row, user.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"msg": "user not found"})
		return middleware.AuthenticatedUser{}, false
	}
	return user, true
}

func turnErrorStatus(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"msg": "not your conversation"})
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
	case errors.Is(err, chat.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"msg": "message is too long"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
	}
}

// sseSink relays service events onto the HTTP response using the wire
// framing. The conversation id header has to go out before the first
// body byte, which holds because ConversationCreated always precedes
// the first fragment.
type sseSink struct {
	c *gin.Context
	w *stream.Writer
}

func (s *sseSink) ConversationCreated(id uint) {
	s.c.Writer.Header().Set(stream.ChatIDHeader, strconv.FormatUint(uint64(id), 10))
}
func (s *sseSink) Fragment(text string) { s.w.Fragment(text) }
func (s *sseSink) End()                 { s.w.End() }
func (s *sseSink) Error(msg string)     { s.w.Error(msg) }

// CreateOrAddMessageStream handles a turn and streams the reply:
// data-framed fragments, then [[END]], or [[ERROR]] on upstream failure.
// A newly created conversation id is exposed via the X-Chat-Id header.
func CreateOrAddMessageStream(db *gorm.DB, gateway chat.Gateway) gin.HandlerFunc {
	svc := newChatService(db, gateway)
	return func(c *gin.Context) {
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.String(http.StatusInternalServerError, "streaming unsupported")
			return
		}

		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}

		var body turnBody
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}
		if !middleware.DuplicateGuard(user.ID, body.Message) {
			c.JSON(http.StatusTooManyRequests, gin.H{"msg": "duplicate message"})
			return
		}
		release := middleware.AcquireUserSlot(user.ID)
		defer release()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no") // nginx buffering off
		c.Writer.Header().Set(stream.ChatIDHeader, "")

		sink := &sseSink{c: c, w: stream.NewWriter(c.Writer, flusher)}
		if _, err := svc.SendTurn(c.Request.Context(), user.ID, body.ConversationID, body.Message, sink); err != nil {
			// Pre-stream failure: nothing has been written yet, a plain
			// status response is still possible.
			turnErrorStatus(c, err)
			return
		}
	}
}

// collectSink buffers the reply for the non-streaming endpoint.
type collectSink struct {
	created *uint
	err     string
}

func (s *collectSink) ConversationCreated(id uint) { s.created = &id }
func (s *collectSink) Fragment(string)             {}
func (s *collectSink) End()                        {}
func (s *collectSink) Error(msg string)            { s.err = msg }

// CreateOrAddMessage is the non-streaming variant: same orchestration,
// response carries the full message list once the reply is complete.
func CreateOrAddMessage(db *gorm.DB, gateway chat.Gateway) gin.HandlerFunc {
	svc := newChatService(db, gateway)
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}

		var body turnBody
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"msg": "message is required"})
			return
		}
		if !middleware.DuplicateGuard(user.ID, body.Message) {
			c.JSON(http.StatusTooManyRequests, gin.H{"msg": "duplicate message"})
			return
		}
		release := middleware.AcquireUserSlot(user.ID)
		defer release()

		sink := &collectSink{}
		res, err := svc.SendTurn(c.Request.Context(), user.ID, body.ConversationID, body.Message, sink)
		if err != nil {
			turnErrorStatus(c, err)
			return
		}
		if res.UpstreamErr != nil {
			c.JSON(http.StatusBadGateway, gin.H{"msg": "assistant unavailable", "detail": sink.err})
			return
		}

		var conv models.Conversation
		if err := db.Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC, id ASC")
		}).First(&conv, res.Conversation.ID).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to load messages"})
			return
		}

		messages := make([]gin.H, 0, len(conv.Messages))
		for _, m := range conv.Messages {
			messages = append(messages, gin.H{
				"id":        m.ID,
				"role":      m.Role,
				"text":      m.Text,
				"timestamp": m.CreatedAt,
			})
		}

		c.JSON(http.StatusCreated, gin.H{
			"conversation_id": conv.ID,
			"messages":        messages,
		})
	}
}

func ListConversations(db *gorm.DB) gin.HandlerFunc {
	store := chat.NewGormStore(db)
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}

		q := strings.TrimSpace(c.Query("q"))

		convs, err := store.ListConversations(c.Request.Context(), user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "db error"})
			return
		}

		// filter by q (in-memory)
		filtered := convs[:0]
		if q == "" {
			filtered = convs
		} else {
			p := strings.ToLower(q)
			for _, conv := range convs {
				if strings.Contains(strings.ToLower(conv.Title), p) {
					filtered = append(filtered, conv)
					continue
				}
				matched := false
				for _, m := range conv.Messages {
					if strings.Contains(strings.ToLower(m.Text), p) {
						matched = true
						break
					}
				}
				if matched {
					filtered = append(filtered, conv)
				}
			}
		}

		// sort by latest message timestamp desc
		sort.SliceStable(filtered, func(i, j int) bool {
			li := latestTimestamp(filtered[i].Messages)
			lj := latestTimestamp(filtered[j].Messages)
			return lj.Before(li) // want descending
		})

		result := make([]gin.H, 0, len(filtered))
		for _, conv := range filtered {
			result = append(result, gin.H{
				"id":             conv.ID,
				"title":          conv.Title,
				"created_at":     conv.CreatedAt,
				"messages_count": len(conv.Messages),
			})
		}

		c.JSON(http.StatusOK, result)
	}
}

func latestTimestamp(msgs []models.Message) time.Time {
	var t time.Time
	for _, m := range msgs {
		if m.CreatedAt.After(t) {
			t = m.CreatedAt
		}
	}
	return t
}

func GetConversation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}

		cid, _ := strconv.Atoi(c.Param("conversation_id"))

		var conv models.Conversation
		if err := db.Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC, id ASC")
		}).Where("id = ? AND user_id = ?", cid, user.ID).First(&conv).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
			return
		}

		messages := make([]gin.H, 0, len(conv.Messages))
		for _, m := range conv.Messages {
			messages = append(messages, gin.H{
				"id":        m.ID,
				"role":      m.Role,
				"text":      m.Text,
				"timestamp": m.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conv.ID,
			"title":           conv.Title,
			"messages":        messages,
		})
	}
}

func DeleteConversation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}

		cid, _ := strconv.Atoi(c.Param("conversation_id"))

		var conv models.Conversation
		if err := db.Where("id = ? AND user_id = ?", cid, user.ID).First(&conv).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"msg": "conversation not found"})
			return
		}

		// Delete cascade is enabled; messages go with the conversation
		if err := db.Delete(&conv).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to delete conversation"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "conversation deleted"})
	}
}

func DeleteAllConversations(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUserRecord(c, db)
		if !ok {
			return
		}
		if err := db.Where("user_id = ?", user.ID).Delete(&models.Conversation{}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"msg": "failed to delete conversations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"msg": "conversations deleted"})
	}
}
