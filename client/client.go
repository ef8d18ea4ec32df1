// Package client is the Go consumer of the chat backend: it keeps the
// local message list in sync with the stream protocol the server speaks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wardflow/pkg/stream"
)

const noResponseNotice = "the assistant sent no response, try again"

// Message mirrors one persisted turn plus client-only presentation state.
type Message struct {
	Role    string
	Text    string
	Err     string // set when the turn ended with an error marker
	Pending bool   // placeholder still being filled
}

// Chat drives one conversation against the backend. Not safe for
// concurrent use; drive it from a single goroutine.
type Chat struct {
	BaseURL string
	Token   string

	// OnConversationsChanged fires after the server announces a new
	// conversation id, so list views can refresh.
	OnConversationsChanged func()

	// OnFragment fires for every fragment as it arrives, before it is
	// folded into the placeholder message.
	OnFragment func(text string)

	ConversationID uint
	Messages       []Message

	HTTPClient *http.Client
}

func New(baseURL, token string) *Chat {
	return &Chat{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Send posts one user message and folds the streamed reply into
// Messages. The user message is appended optimistically; an assistant
// placeholder follows and fills as fragments arrive.
func (ch *Chat) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("message is empty")
	}

	ch.Messages = append(ch.Messages, Message{Role: "user", Text: text})
	ch.Messages = append(ch.Messages, Message{Role: "assistant", Pending: true})
	placeholder := len(ch.Messages) - 1

	payload := map[string]any{"message": text}
	if ch.ConversationID != 0 {
		payload["conversation_id"] = ch.ConversationID
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.BaseURL+"/conversations/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ch.Token)

	resp, err := ch.HTTPClient.Do(req)
	if err != nil {
		ch.dropPlaceholder(placeholder)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ch.dropPlaceholder(placeholder)
		return decodeAPIError(resp)
	}

	// A new conversation announces its id out of band; adopt it in
	// place, no history refetch needed.
	if idStr := resp.Header.Get(stream.ChatIDHeader); idStr != "" {
		if id, err := strconv.ParseUint(idStr, 10, 64); err == nil && id != 0 {
			ch.ConversationID = uint(id)
			if ch.OnConversationsChanged != nil {
				ch.OnConversationsChanged()
			}
		}
	}

	return ch.consume(resp.Body, placeholder)
}

// consume reads the framed stream and mutates the placeholder message.
func (ch *Chat) consume(r io.Reader, placeholder int) error {
	parser := &stream.Parser{}
	buf := make([]byte, 4096)
	gotFragment := false
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				switch ev.Kind {
				case stream.KindFragment:
					gotFragment = true
					if ch.OnFragment != nil {
						ch.OnFragment(ev.Text)
					}
					ch.Messages[placeholder].Text += ev.Text
				case stream.KindEnd:
					if !gotFragment {
						ch.dropPlaceholder(placeholder)
						return errors.New(noResponseNotice)
					}
					ch.Messages[placeholder].Pending = false
					return nil
				case stream.KindError:
					// the error never joins the accumulated text
					ch.Messages[placeholder].Pending = false
					ch.Messages[placeholder].Err = ev.Text
					return fmt.Errorf("assistant error: %s", ev.Text)
				}
			}
		}
		if readErr != nil {
			ch.dropPlaceholder(placeholder)
			if readErr == io.EOF {
				return errors.New("stream ended without end marker")
			}
			return readErr
		}
	}
}

func (ch *Chat) dropPlaceholder(i int) {
	if i == len(ch.Messages)-1 && ch.Messages[i].Pending {
		ch.Messages = ch.Messages[:i]
	}
}

// ConversationSummary is one row of the list endpoint.
type ConversationSummary struct {
	ID            uint      `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	MessagesCount int       `json:"messages_count"`
}

func (ch *Chat) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.BaseURL+"/conversations", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ch.Token)

	resp, err := ch.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var out []ConversationSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login exchanges credentials for an access token.
func Login(ctx context.Context, baseURL, email, password string) (token, username, role string, err error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/login", bytes.NewReader(body))
	if err != nil {
		return "", "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return "", "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", "", decodeAPIError(resp)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		Username    string `json:"username"`
		Role        string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", "", err
	}
	return out.AccessToken, out.Username, out.Role, nil
}

func decodeAPIError(resp *http.Response) error {
	var out struct {
		Msg string `json:"msg"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Msg != "" {
		return fmt.Errorf("server: %s (status %d)", out.Msg, resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
