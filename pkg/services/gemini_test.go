package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"wardflow/pkg/chat"
)

func chunkLine(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`+"\n", text)
}

func testGateway(srvURL string, models ...string) *GeminiGateway {
	return &GeminiGateway{
		apiKey:  "test-key",
		enabled: true,
		models:  models,
		baseURL: srvURL,
		client:  http.DefaultClient,
		backoff: 0,
	}
}

func TestStreamCompletionAccumulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, chunkLine("Hi"))
		_, _ = fmt.Fprint(w, chunkLine(" there!"))
	}))
	defer srv.Close()

	g := testGateway(srv.URL, "test-model")
	var got []string
	text, err := g.StreamCompletion(context.Background(), []chat.Turn{{Role: "user", Text: "hello"}}, func(s string) {
		got = append(got, s)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text != "Hi there!" {
		t.Fatalf("text = %q, want %q", text, "Hi there!")
	}
	if len(got) != 2 || got[0] != "Hi" || got[1] != " there!" {
		t.Fatalf("unexpected deltas: %v", got)
	}
}

func TestStreamCompletionNoFallbackAfterFragments(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = fmt.Fprint(w, chunkLine("Par"))
		w.(http.Flusher).Flush()
		// drop the connection mid-stream
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	g := testGateway(srv.URL, "primary", "fallback")
	var got []string
	_, err := g.StreamCompletion(context.Background(), []chat.Turn{{Role: "user", Text: "hello"}}, func(s string) {
		got = append(got, s)
	})

	if err == nil {
		t.Fatalf("expected mid-stream error, got nil")
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("stream restarted after fragments were relayed: %d requests", n)
	}
	if len(got) != 1 || got[0] != "Par" {
		t.Fatalf("deltas duplicated or lost: %v", got)
	}
}

func TestStreamCompletionRetriesBeforeFragments(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// duplicated model list collapses to one candidate
	g := testGateway(srv.URL, "same-model", "same-model")
	deltas := 0
	_, err := g.StreamCompletion(context.Background(), []chat.Turn{{Role: "user", Text: "hello"}}, func(string) {
		deltas++
	})

	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("expected 503 failure, got %v", err)
	}
	// one candidate, one retriable retry
	if n := requests.Load(); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
	if deltas != 0 {
		t.Fatalf("deltas fired on a failed stream: %d", deltas)
	}
}
