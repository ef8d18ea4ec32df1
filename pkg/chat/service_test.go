package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"wardflow/models"
	"wardflow/pkg/stream"
)

type fakeStore struct {
	convs    map[uint]*models.Conversation
	msgs     map[uint][]models.Message
	nextConv uint
	nextMsg  uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: map[uint]*models.Conversation{}, msgs: map[uint][]models.Message{}}
}

func (s *fakeStore) FindConversation(_ context.Context, id uint) (*models.Conversation, error) {
	return s.convs[id], nil
}

func (s *fakeStore) CreateConversation(_ context.Context, ownerID uint, title string) (*models.Conversation, error) {
	s.nextConv++
	conv := &models.Conversation{UserID: ownerID, Title: title}
	conv.ID = s.nextConv
	s.convs[conv.ID] = conv
	return conv, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, conversationID uint, role, text string) (*models.Message, error) {
	s.nextMsg++
	msg := models.Message{ConversationID: conversationID, Role: role, Text: text}
	msg.ID = s.nextMsg
	msg.CreatedAt = time.Unix(int64(1700000000+s.nextMsg), 0)
	s.msgs[conversationID] = append(s.msgs[conversationID], msg)
	return &msg, nil
}

func (s *fakeStore) ListRecentMessages(_ context.Context, conversationID uint, limit int) ([]models.Message, error) {
	all := s.msgs[conversationID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.Message(nil), all...), nil
}

type fakeGateway struct {
	fragments []string
	err       error
	calls     int
	gotTurns  [][]Turn
}

func (g *fakeGateway) StreamCompletion(ctx context.Context, turns []Turn, onDelta func(string)) (string, error) {
	g.calls++
	g.gotTurns = append(g.gotTurns, turns)
	var full strings.Builder
	for _, f := range g.fragments {
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
		full.WriteString(f)
		onDelta(f)
	}
	if g.err != nil {
		return full.String(), g.err
	}
	return full.String(), nil
}

type sinkEvent struct {
	kind string
	text string
}

type recordingSink struct {
	created []uint
	events  []sinkEvent
}

func (r *recordingSink) ConversationCreated(id uint) { r.created = append(r.created, id) }
func (r *recordingSink) Fragment(text string) {
	r.events = append(r.events, sinkEvent{kind: "fragment", text: text})
}
func (r *recordingSink) End()             { r.events = append(r.events, sinkEvent{kind: "end"}) }
func (r *recordingSink) Error(msg string) { r.events = append(r.events, sinkEvent{kind: "error", text: msg}) }

func TestNewConversationStreamsAndPersists(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{fragments: []string{"Hi", " there", "!"}}
	svc := NewService(store, gw, Options{HistoryLimit: 10})
	sink := &recordingSink{}

	res, err := svc.SendTurn(context.Background(), 7, nil, "Hello", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Created || res.Conversation == nil {
		t.Fatalf("expected a newly created conversation, got %+v", res)
	}
	if len(sink.created) != 1 || sink.created[0] != res.Conversation.ID {
		t.Fatalf("expected created id announced exactly once, got %v", sink.created)
	}

	msgs := store.msgs[res.Conversation.ID]
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Text != "Hello" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Text != "Hi there!" {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}

	want := []sinkEvent{{"fragment", "Hi"}, {"fragment", " there"}, {"fragment", "!"}, {"end", ""}}
	if len(sink.events) != len(want) {
		t.Fatalf("expected %d sink events, got %v", len(want), sink.events)
	}
	for i, ev := range want {
		if sink.events[i] != ev {
			t.Fatalf("event %d: expected %+v, got %+v", i, ev, sink.events[i])
		}
	}
}

func TestForbiddenConversationHasNoSideEffects(t *testing.T) {
	store := newFakeStore()
	conv, _ := store.CreateConversation(context.Background(), 1, "theirs")
	gw := &fakeGateway{fragments: []string{"nope"}}
	svc := NewService(store, gw, Options{})
	sink := &recordingSink{}

	_, err := svc.SendTurn(context.Background(), 2, &conv.ID, "Hello", sink)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if gw.calls != 0 {
		t.Fatalf("expected zero gateway calls, got %d", gw.calls)
	}
	if len(store.msgs[conv.ID]) != 0 {
		t.Fatalf("expected zero message writes, got %d", len(store.msgs[conv.ID]))
	}
	if len(sink.events) != 0 || len(sink.created) != 0 {
		t.Fatalf("expected no sink writes, got %v %v", sink.created, sink.events)
	}
}

func TestUnknownConversationIsNotFound(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeGateway{}, Options{})
	missing := uint(99)

	_, err := svc.SendTurn(context.Background(), 1, &missing, "Hello", &recordingSink{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMidStreamErrorDiscardsPartialReply(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{fragments: []string{"Par"}, err: errors.New("model stream reset")}
	svc := NewService(store, gw, Options{})
	sink := &recordingSink{}

	res, err := svc.SendTurn(context.Background(), 3, nil, "Hello", sink)
	if err != nil {
		t.Fatalf("mid-stream failures must be relayed in-band, got %v", err)
	}
	if res.UpstreamErr == nil {
		t.Fatalf("expected UpstreamErr to be set")
	}

	msgs := store.msgs[res.Conversation.ID]
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message persisted, got %+v", msgs)
	}

	last := sink.events[len(sink.events)-1]
	if last.kind != "error" {
		t.Fatalf("expected trailing error event, got %+v", last)
	}
	if sink.events[0].kind != "fragment" || sink.events[0].text != "Par" {
		t.Fatalf("expected the produced fragment to be relayed, got %+v", sink.events[0])
	}
	for _, ev := range sink.events {
		if ev.kind == "end" {
			t.Fatalf("no end marker expected after a failed stream: %v", sink.events)
		}
	}
}

func TestCancellationSkipsAssistantInsert(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	gw := &cancellingGateway{cancel: cancel}
	svc := NewService(store, gw, Options{})
	sink := &recordingSink{}

	res, err := svc.SendTurn(ctx, 3, nil, "Hello", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UpstreamErr == nil {
		t.Fatalf("expected cancellation to surface as upstream error")
	}
	msgs := store.msgs[res.Conversation.ID]
	if len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Fatalf("expected only the user message persisted, got %+v", msgs)
	}
}

// cancellingGateway emits one fragment, then observes its own caller
// disconnecting mid-stream.
type cancellingGateway struct {
	cancel context.CancelFunc
}

func (g *cancellingGateway) StreamCompletion(ctx context.Context, _ []Turn, onDelta func(string)) (string, error) {
	onDelta("partial ")
	g.cancel()
	<-ctx.Done()
	return "partial ", ctx.Err()
}

func TestHistoryWindowReplaysMostRecentTenOldestFirst(t *testing.T) {
	store := newFakeStore()
	conv, _ := store.CreateConversation(context.Background(), 5, "long chat")
	for i := 0; i < 15; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		store.InsertMessage(context.Background(), conv.ID, role, fmt.Sprintf("msg-%02d", i))
	}

	gw := &fakeGateway{fragments: []string{"ok"}}
	svc := NewService(store, gw, Options{HistoryLimit: 10})

	_, err := svc.SendTurn(context.Background(), 5, &conv.ID, "latest question", &recordingSink{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	turns := gw.gotTurns[0]
	if len(turns) != 11 {
		t.Fatalf("expected 10 history turns + new turn, got %d", len(turns))
	}
	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("msg-%02d", i+5)
		if turns[i].Text != want {
			t.Fatalf("turn %d: expected %q, got %q", i, want, turns[i].Text)
		}
	}
	last := turns[10]
	if last.Role != models.RoleUser || last.Text != "latest question" {
		t.Fatalf("unexpected final turn: %+v", last)
	}
}

func TestEmptyStreamEndsWithoutAssistantMessage(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	svc := NewService(store, gw, Options{})
	sink := &recordingSink{}

	res, err := svc.SendTurn(context.Background(), 1, nil, "Hello", sink)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.msgs[res.Conversation.ID]) != 1 {
		t.Fatalf("expected only the user message persisted")
	}
	if len(sink.events) != 1 || sink.events[0].kind != "end" {
		t.Fatalf("expected a lone end event, got %v", sink.events)
	}
}

func TestValidationRejectsBlankAndOversizedMessages(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	svc := NewService(store, gw, Options{MaxMessageChars: 10})

	if _, err := svc.SendTurn(context.Background(), 1, nil, "   ", &recordingSink{}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.SendTurn(context.Background(), 1, nil, strings.Repeat("x", 11), &recordingSink{}); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if gw.calls != 0 || len(store.convs) != 0 {
		t.Fatalf("validation failures must have no side effects")
	}
}

func TestExistingConversationDoesNotAnnounceID(t *testing.T) {
	store := newFakeStore()
	conv, _ := store.CreateConversation(context.Background(), 4, "mine")
	svc := NewService(store, &fakeGateway{fragments: []string{"hi"}}, Options{})
	sink := &recordingSink{}

	if _, err := svc.SendTurn(context.Background(), 4, &conv.ID, "again", sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.created) != 0 {
		t.Fatalf("existing conversation must not announce an id, got %v", sink.created)
	}
}

// frameSink adapts the wire writer so the relay can be checked end to end
// against the parser.
type frameSink struct {
	w *stream.Writer
}

func (f *frameSink) ConversationCreated(uint)  {}
func (f *frameSink) Fragment(text string)      { f.w.Fragment(text) }
func (f *frameSink) End()                      { f.w.End() }
func (f *frameSink) Error(msg string)          { f.w.Error(msg) }

func TestWireRoundTripMatchesPersistedAssistantText(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{fragments: []string{"Shift swap ", "approved.\n", "Anything else?"}}
	svc := NewService(store, gw, Options{})

	var buf bytes.Buffer
	res, err := svc.SendTurn(context.Background(), 9, nil, "Can I swap shifts?", &frameSink{w: stream.NewWriter(&buf, nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var p stream.Parser
	var rebuilt strings.Builder
	for _, ev := range p.Feed(buf.Bytes()) {
		if ev.Kind == stream.KindFragment {
			rebuilt.WriteString(ev.Text)
		}
	}

	msgs := store.msgs[res.Conversation.ID]
	if msgs[1].Text != rebuilt.String() {
		t.Fatalf("wire text %q differs from persisted text %q", rebuilt.String(), msgs[1].Text)
	}
}
