// Package chat orchestrates a conversation turn: resolve or create the
// conversation, replay a bounded history window to the model gateway,
// persist both sides of the exchange and relay the reply incrementally.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"wardflow/models"
	"wardflow/pkg/utils"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrForbidden      = errors.New("conversation belongs to another user")
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)

// Turn is one role-tagged entry of the model context.
type Turn struct {
	Role string // models.RoleUser or models.RoleAssistant
	Text string
}

// Store is the persistence collaborator. Lookups are not owner-scoped;
// ownership is enforced here so NotFound and Forbidden stay distinct.
type Store interface {
	FindConversation(ctx context.Context, id uint) (*models.Conversation, error)
	CreateConversation(ctx context.Context, ownerID uint, title string) (*models.Conversation, error)
	InsertMessage(ctx context.Context, conversationID uint, role, text string) (*models.Message, error)
	// ListRecentMessages returns the most recent limit messages, oldest-first.
	ListRecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error)
}

// Gateway streams a model completion for an ordered turn list. The stream
// is finite, not restartable, and must stop when ctx is cancelled.
type Gateway interface {
	StreamCompletion(ctx context.Context, turns []Turn, onDelta func(string)) (string, error)
}

// Sink receives the relayed stream. ConversationCreated fires at most once,
// before any fragment, and only when this turn minted the conversation.
type Sink interface {
	ConversationCreated(id uint)
	Fragment(text string)
	End()
	Error(msg string)
}

type Options struct {
	HistoryLimit    int           // most-recent-N window replayed as context
	MaxMessageChars int           // 0 = unlimited
	StreamTimeout   time.Duration // 0 = no cap
}

type Service struct {
	store   Store
	gateway Gateway
	opts    Options
}

func NewService(store Store, gateway Gateway, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	return &Service{store: store, gateway: gateway, opts: opts}
}

// Result reports what a turn did. UpstreamErr is set when the gateway or
// the final insert failed after streaming began; the error was already
// relayed in-band, so callers must not write a status code for it.
type Result struct {
	Conversation  *models.Conversation
	Created       bool
	UserMessage   *models.Message
	AssistantText string
	UpstreamErr   error
}

// SendTurn runs one turn against conversationID (nil = new conversation)
// on behalf of ownerID. Pre-stream failures return a sentinel error with
// zero sink writes and zero gateway calls. Once streaming starts, failures
// surface as an error frame and the assistant message is never persisted
// partially: either the full reply is inserted or nothing is.
func (s *Service) SendTurn(ctx context.Context, ownerID uint, conversationID *uint, text string, sink Sink) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if s.opts.MaxMessageChars > 0 && len([]rune(text)) > s.opts.MaxMessageChars {
		return nil, ErrMessageTooLong
	}

	res := &Result{}

	if conversationID != nil {
		conv, err := s.store.FindConversation(ctx, *conversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, ErrNotFound
		}
		if conv.UserID != ownerID {
			return nil, ErrForbidden
		}
		res.Conversation = conv
	} else {
		conv, err := s.store.CreateConversation(ctx, ownerID, utils.Truncate(text, 33))
		if err != nil {
			return nil, err
		}
		res.Conversation = conv
		res.Created = true
	}

	// History is loaded before the user message is inserted so the new turn
	// never appears twice in the context.
	var turns []Turn
	if !res.Created {
		history, err := s.store.ListRecentMessages(ctx, res.Conversation.ID, s.opts.HistoryLimit)
		if err != nil {
			return nil, err
		}
		for _, m := range history {
			turns = append(turns, Turn{Role: m.Role, Text: m.Text})
		}
	}
	turns = append(turns, Turn{Role: models.RoleUser, Text: text})

	userMsg, err := s.store.InsertMessage(ctx, res.Conversation.ID, models.RoleUser, text)
	if err != nil {
		return nil, err
	}
	res.UserMessage = userMsg

	if res.Created {
		sink.ConversationCreated(res.Conversation.ID)
	}

	streamCtx := ctx
	if s.opts.StreamTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, s.opts.StreamTimeout)
		defer cancel()
	}

	var full strings.Builder
	_, gwErr := s.gateway.StreamCompletion(streamCtx, turns, func(chunk string) {
		full.WriteString(chunk)
		sink.Fragment(chunk)
	})
	if gwErr != nil {
		// Whatever accumulated is discarded; the user message stands as a
		// record of the attempt.
		log.Printf("[chat] stream failed for conversation %d: %v", res.Conversation.ID, gwErr)
		sink.Error(gwErr.Error())
		res.UpstreamErr = gwErr
		return res, nil
	}

	res.AssistantText = full.String()
	if strings.TrimSpace(res.AssistantText) == "" {
		// Empty reply: nothing to persist, the client drops its placeholder.
		sink.End()
		return res, nil
	}

	if _, err := s.store.InsertMessage(ctx, res.Conversation.ID, models.RoleAssistant, res.AssistantText); err != nil {
		log.Printf("[chat] failed to save reply for conversation %d: %v", res.Conversation.ID, err)
		sink.Error("failed to save reply")
		res.UpstreamErr = err
		return res, nil
	}

	sink.End()
	return res, nil
}
