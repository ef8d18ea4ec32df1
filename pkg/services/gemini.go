package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"wardflow/models"
	"wardflow/pkg/chat"
	"wardflow/pkg/config"
)

const systemInstruction = "You are a helpful assistant for hospital nursing staff. " +
	"Answer questions about shifts, rosters, leave policies and ward procedures " +
	"clearly and concisely. Use short paragraphs or bullet points. If the context " +
	"is insufficient, ask one brief clarifying question. Stay on workplace topics."

var ErrGeminiDisabled = errors.New("gemini is disabled via config")

// GeminiGateway streams completions from the Gemini REST API. It satisfies
// chat.Gateway.
type GeminiGateway struct {
	apiKey  string
	enabled bool
	models  []string
	baseURL string
	client  *http.Client
	backoff time.Duration
}

func NewGeminiGateway() *GeminiGateway {
	return &GeminiGateway{
		apiKey:  config.GeminiAPIKey,
		enabled: config.IsGeminiEnabled,
		models:  []string{config.GeminiModel, "gemini-2.0-flash"},
		baseURL: "https://generativelanguage.googleapis.com",
		client:  http.DefaultClient,
		backoff: 2 * time.Second,
	}
}

// StreamCompletion tries the configured model first, then the default one,
// retrying once per model on retriable failures. Retries and fallback stop
// the moment a fragment has been relayed: the consumer already saw it, so
// restarting the stream would duplicate text. Mid-stream failures return
// the error instead. When a stream succeeds but yields no text, the
// non-streaming endpoint is tried before giving up.
func (g *GeminiGateway) StreamCompletion(ctx context.Context, turns []chat.Turn, onDelta func(string)) (string, error) {
	if !g.enabled {
		return "", ErrGeminiDisabled
	}
	if strings.TrimSpace(g.apiKey) == "" {
		return "", fmt.Errorf("GEMINI_API_KEY is not set")
	}

	body, err := buildPayload(turns)
	if err != nil {
		return "", err
	}

	relayed := false
	relay := func(chunk string) {
		relayed = true
		if onDelta != nil {
			onDelta(chunk)
		}
	}

	tried := make(map[string]error)

	for _, m := range dedupeModels(g.models) {
		text, err := g.streamGenerateContent(ctx, m, body, relay)
		if err != nil && isRetriable(err) && !relayed && ctx.Err() == nil {
			sleepWithContext(ctx, g.backoff)
			text, err = g.streamGenerateContent(ctx, m, body, relay)
		}
		if err == nil {
			if strings.TrimSpace(text) != "" {
				return text, nil
			}
			if full, gerr := g.generateContent(ctx, m, body); gerr == nil && strings.TrimSpace(full) != "" {
				relay(full)
				return full, nil
			}
			return "", nil
		}
		if relayed || ctx.Err() != nil {
			return text, err
		}
		tried[m] = err
		log.Printf("[gemini] stream model %s failed: %v", m, err)
	}

	var b strings.Builder
	b.WriteString("all gemini models failed: ")
	first := true
	for m, e := range tried {
		if !first {
			b.WriteString("; ")
		}
		first = false
		fmt.Fprintf(&b, "%s -> %v", m, e)
	}
	return "", errors.New(b.String())
}

func buildPayload(turns []chat.Turn) ([]byte, error) {
	contents := make([]any, 0, len(turns))
	for _, t := range turns {
		// Gemini calls the assistant side "model".
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []any{map[string]any{"text": t.Text}},
		})
	}
	reqBody := map[string]any{
		"systemInstruction": map[string]any{
			"parts": []any{map[string]any{"text": systemInstruction}},
		},
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     0.5,
			"maxOutputTokens": 2048,
			"topK":            40,
			"topP":            0.9,
		},
	}
	return json.Marshal(reqBody)
}

// dedupeModels drops blanks and repeats while keeping order, so the
// configured model equalling the default does not count as a fallback.
func dedupeModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (g *GeminiGateway) streamGenerateContent(ctx context.Context, model string, body []byte, onDelta func(string)) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s", g.baseURL, model, g.apiKey)
	log.Printf("[gemini] streaming model %s", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	full := strings.Builder{}
	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "data:") {
			line = strings.TrimSpace(line[5:])
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		for _, txt := range candidateTexts(obj) {
			full.WriteString(txt)
			if onDelta != nil {
				onDelta(txt)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("stream read error: %w", err)
	}
	if ctx.Err() != nil {
		return full.String(), ctx.Err()
	}
	return full.String(), nil
}

func (g *GeminiGateway) generateContent(ctx context.Context, model string, body []byte) (string, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	log.Printf("[gemini] using model %s", model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("decode error: %w", err)
	}
	texts := candidateTexts(parsed)
	return strings.Join(texts, ""), nil
}

// candidateTexts digs the text parts out of a generateContent response
// object, streamed or not.
func candidateTexts(obj map[string]any) []string {
	var out []string
	cands, ok := obj["candidates"].([]any)
	if !ok || len(cands) == 0 {
		return nil
	}
	first, ok := cands[0].(map[string]any)
	if !ok {
		return nil
	}
	content, ok := first["content"].(map[string]any)
	if !ok {
		return nil
	}
	parts, ok := content["parts"].([]any)
	if !ok {
		return nil
	}
	for _, p := range parts {
		if pm, ok := p.(map[string]any); ok {
			if txt, ok := pm["text"].(string); ok && txt != "" {
				out = append(out, txt)
			}
		}
	}
	return out
}

func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	if strings.Contains(e, "status 503") || strings.Contains(e, "unavailable") {
		return true
	}
	if strings.Contains(e, "status 429") || strings.Contains(e, "resource_exhausted") || strings.Contains(e, "quota") {
		return true
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
