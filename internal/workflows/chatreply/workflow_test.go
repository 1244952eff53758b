package chatreply_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"recap/internal/engine"
	"recap/internal/meetings"
	"recap/internal/retry"
	"recap/internal/runs"
	"recap/internal/services/openai"
	"recap/internal/services/streamchat"
	"recap/internal/workflows/chatreply"
)

type fakeChat struct {
	history  []streamchat.Message
	upserted []streamchat.User
	sent     []streamchat.Message
	sentTo   []string
	queried  int
	gotLimit int
}

func (f *fakeChat) QueryMessages(ctx context.Context, channelID string, limit int) ([]streamchat.Message, error) {
	f.queried++
	f.gotLimit = limit
	if limit < len(f.history) {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}

func (f *fakeChat) UpsertUser(ctx context.Context, user streamchat.User) error {
	f.upserted = append(f.upserted, user)
	return nil
}

func (f *fakeChat) SendMessage(ctx context.Context, channelID string, message streamchat.Message) error {
	f.sentTo = append(f.sentTo, channelID)
	f.sent = append(f.sent, message)
	return nil
}

type fakeCompleter struct {
	reply string
	err   error
	last  []openai.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []openai.Message) (string, error) {
	f.last = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeDirectory struct {
	meeting meetings.Meeting
	agent   meetings.Agent
}

func (f *fakeDirectory) GetMeeting(ctx context.Context, id string) (*meetings.Meeting, error) {
	m := f.meeting
	return &m, nil
}

func (f *fakeDirectory) GetAgent(ctx context.Context, id string) (*meetings.Agent, error) {
	a := f.agent
	return &a, nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		meeting: meetings.Meeting{ID: "m1", AgentID: "a1", Status: meetings.StatusCompleted,
			Summary: "### Overview\nThe roadmap was agreed."},
		agent: meetings.Agent{ID: "a1", Name: "Notetaker", Instructions: "Be brief."},
	}
}

func runWorkflow(t *testing.T, wf *chatreply.Workflow, event chatreply.Event) error {
	t.Helper()
	payload, _ := json.Marshal(event)
	log := runs.NewMemoryLog()
	executor := engine.NewExecutor(log, retry.DefaultPolicy(), nil,
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	_, err := executor.Execute(context.Background(), "run-1", wf.Definition(), payload)
	return err
}

func TestReplyEndToEnd(t *testing.T) {
	chat := &fakeChat{history: []streamchat.Message{
		{Text: "What did we decide?", UserID: "u1"},
		{Text: "The roadmap has three milestones.", UserID: "a1"},
	}}
	completer := &fakeCompleter{reply: "Three milestones were agreed."}
	wf := chatreply.New(chat, completer, newDirectory(), 5)

	event := chatreply.Event{
		UserID: "u1", ChannelID: "meeting-1", Text: "Remind me of the milestones",
		AgentID: "a1", MeetingID: "m1",
	}
	if err := runWorkflow(t, wf, event); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}

	if len(chat.sent) != 1 {
		t.Fatalf("expected one published reply, got %d", len(chat.sent))
	}
	if chat.sent[0].Text != "Three milestones were agreed." || chat.sent[0].UserID != "a1" {
		t.Fatalf("unexpected reply: %#v", chat.sent[0])
	}
	if chat.sentTo[0] != "meeting-1" {
		t.Fatalf("reply went to wrong channel %q", chat.sentTo[0])
	}

	// The profile upsert precedes the send and carries a deterministic avatar.
	if len(chat.upserted) != 1 || chat.upserted[0].ID != "a1" || chat.upserted[0].Name != "Notetaker" {
		t.Fatalf("unexpected upsert: %#v", chat.upserted)
	}
	if !strings.Contains(chat.upserted[0].Image, "bottts-neutral") {
		t.Fatalf("expected generated avatar, got %q", chat.upserted[0].Image)
	}

	system := completer.last[0]
	if system.Role != "system" || !strings.Contains(system.Content, "roadmap was agreed") ||
		!strings.Contains(system.Content, "Be brief.") {
		t.Fatalf("instructions missing summary or agent guidance: %q", system.Content)
	}
	final := completer.last[len(completer.last)-1]
	if final.Role != "user" || final.Content != "Remind me of the milestones" {
		t.Fatalf("unexpected final turn: %#v", final)
	}
}

func TestReplyHistoryBoundAndFiltered(t *testing.T) {
	history := []streamchat.Message{
		{Text: "one", UserID: "u1"},
		{Text: "two", UserID: "a1"},
		{Text: "three", UserID: "u1"},
		{Text: "   ", UserID: "u1"},
		{Text: "five", UserID: "a1"},
		{Text: "", UserID: "u1"},
		{Text: "seven", UserID: "u1"},
		{Text: "eight", UserID: "a1"},
	}
	chat := &fakeChat{history: history}
	completer := &fakeCompleter{reply: "ok"}
	wf := chatreply.New(chat, completer, newDirectory(), 5)

	event := chatreply.Event{UserID: "u1", ChannelID: "c1", Text: "q", AgentID: "a1", MeetingID: "m1"}
	if err := runWorkflow(t, wf, event); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	if chat.gotLimit != 5 {
		t.Fatalf("expected history limit 5, got %d", chat.gotLimit)
	}

	// system + filtered history + current question
	turns := completer.last[1 : len(completer.last)-1]
	if len(turns) != 3 {
		t.Fatalf("expected 3 history turns after filtering, got %d: %#v", len(turns), turns)
	}
	wantRoles := []string{"assistant", "user", "assistant"}
	wantText := []string{"five", "seven", "eight"}
	for i, turn := range turns {
		if turn.Role != wantRoles[i] || turn.Content != wantText[i] {
			t.Fatalf("turn %d: expected %s %q, got %s %q", i, wantRoles[i], wantText[i], turn.Role, turn.Content)
		}
	}
}

func TestReplyEmptyCompletionPublishesNothing(t *testing.T) {
	chat := &fakeChat{}
	completer := &fakeCompleter{err: openai.ErrNoContent}
	wf := chatreply.New(chat, completer, newDirectory(), 5)

	event := chatreply.Event{UserID: "u1", ChannelID: "c1", Text: "q", AgentID: "a1", MeetingID: "m1"}
	if err := runWorkflow(t, wf, event); err != nil {
		t.Fatalf("empty completion must complete the run, got %v", err)
	}
	if len(chat.upserted) != 0 || len(chat.sent) != 0 {
		t.Fatal("no chat side effects expected for an empty reply")
	}
}

func TestReplyRoleMappingBySenderIdentity(t *testing.T) {
	chat := &fakeChat{history: []streamchat.Message{
		{Text: "hello", UserID: "someone-else"},
		{Text: "hi there", UserID: "a1"},
	}}
	completer := &fakeCompleter{reply: "ok"}
	wf := chatreply.New(chat, completer, newDirectory(), 5)

	event := chatreply.Event{UserID: "u1", ChannelID: "c1", Text: "q", AgentID: "a1", MeetingID: "m1"}
	if err := runWorkflow(t, wf, event); err != nil {
		t.Fatalf("workflow failed: %v", err)
	}
	turns := completer.last[1 : len(completer.last)-1]
	if turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("unexpected role mapping: %#v", turns)
	}
}
