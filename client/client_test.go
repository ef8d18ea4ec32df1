package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wardflow/pkg/stream"
)

func streamHandler(t *testing.T, chatID string, frames []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/stream" {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set(stream.ChatIDHeader, chatID)
		w.WriteHeader(http.StatusOK)
		f := w.(http.Flusher)
		for _, frame := range frames {
			// split each frame to exercise chunk reassembly
			half := len(frame) / 2
			_, _ = w.Write([]byte(frame[:half]))
			f.Flush()
			_, _ = w.Write([]byte(frame[half:]))
			f.Flush()
		}
	}
}

func frame(text string) string { return "data: " + text + "\n\n" }

func TestSendAccumulatesFragments(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, "42", []string{
		frame("Hi"), frame(" there"), frame("!"), frame("[[END]]"),
	}))
	defer srv.Close()

	ch := New(srv.URL, "tok")
	refreshed := 0
	ch.OnConversationsChanged = func() { refreshed++ }

	if err := ch.Send(context.Background(), "Hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if ch.ConversationID != 42 {
		t.Fatalf("conversation id = %d, want 42", ch.ConversationID)
	}
	if refreshed != 1 {
		t.Fatalf("list refresh fired %d times, want 1", refreshed)
	}
	if len(ch.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(ch.Messages))
	}
	if ch.Messages[0].Role != "user" || ch.Messages[0].Text != "Hello" {
		t.Fatalf("unexpected user message: %+v", ch.Messages[0])
	}
	asst := ch.Messages[1]
	if asst.Role != "assistant" || asst.Text != "Hi there!" || asst.Pending || asst.Err != "" {
		t.Fatalf("unexpected assistant message: %+v", asst)
	}
}

func TestSendExistingConversationKeepsID(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set(stream.ChatIDHeader, "")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(frame("ok") + frame("[[END]]")))
	}))
	defer srv.Close()

	ch := New(srv.URL, "tok")
	ch.ConversationID = 7
	refreshed := false
	ch.OnConversationsChanged = func() { refreshed = true }

	if err := ch.Send(context.Background(), "again"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if ch.ConversationID != 7 {
		t.Fatalf("conversation id changed to %d", ch.ConversationID)
	}
	if refreshed {
		t.Fatalf("list refresh fired for an existing conversation")
	}
	if got, ok := gotBody["conversation_id"].(float64); !ok || uint(got) != 7 {
		t.Fatalf("request body missing conversation_id: %v", gotBody)
	}
}

func TestSendErrorFrameExcludedFromText(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, "9", []string{
		frame("partial"), frame("[[ERROR]] model unavailable"),
	}))
	defer srv.Close()

	ch := New(srv.URL, "tok")
	err := ch.Send(context.Background(), "Hello")
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected assistant error, got %v", err)
	}

	asst := ch.Messages[len(ch.Messages)-1]
	if asst.Text != "partial" {
		t.Fatalf("error text leaked into reply: %q", asst.Text)
	}
	if asst.Err != "model unavailable" {
		t.Fatalf("error state not set: %+v", asst)
	}
}

func TestSendEmptyStreamRemovesPlaceholder(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, "3", []string{frame("[[END]]")}))
	defer srv.Close()

	ch := New(srv.URL, "tok")
	err := ch.Send(context.Background(), "Hello")
	if err == nil || !strings.Contains(err.Error(), "no response") {
		t.Fatalf("expected no-response notice, got %v", err)
	}
	if len(ch.Messages) != 1 || ch.Messages[0].Role != "user" {
		t.Fatalf("placeholder not removed: %+v", ch.Messages)
	}
}

func TestSendServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"msg": "not your conversation"})
	}))
	defer srv.Close()

	ch := New(srv.URL, "tok")
	err := ch.Send(context.Background(), "Hello")
	if err == nil || !strings.Contains(err.Error(), "not your conversation") {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(ch.Messages) != 1 {
		t.Fatalf("placeholder should be removed on failure: %+v", ch.Messages)
	}
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 2, "title": "Night shift swap", "messages_count": 4},
			{"id": 1, "title": "Leave policy", "messages_count": 2},
		})
	}))
	defer srv.Close()

	ch := New(srv.URL, "tok")
	list, err := ch.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != 2 || list[0].Title != "Night shift swap" {
		t.Fatalf("unexpected list: %+v", list)
	}
}
