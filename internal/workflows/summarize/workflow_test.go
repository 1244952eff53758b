package summarize_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recap/internal/engine"
	"recap/internal/meetings"
	"recap/internal/retry"
	"recap/internal/services"
	"recap/internal/services/openai"
	"recap/internal/testsupport"
	"recap/internal/transcript"
	"recap/internal/workflows/summarize"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
	last  []openai.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []openai.Message) (string, error) {
	f.calls++
	f.last = messages
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func seedMeetingData(t *testing.T, store *meetings.Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.SeedMeeting(ctx, meetings.Meeting{
		ID: "m1", Name: "Weekly sync", AgentID: "a1", Status: meetings.StatusProcessing,
	}); err != nil {
		t.Fatalf("seed meeting: %v", err)
	}
	if err := store.SeedAgent(ctx, meetings.Agent{ID: "a1", Name: "Bot", Instructions: "Be helpful."}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	if err := store.SeedUser(ctx, meetings.User{ID: "u1", Name: "Alice"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func transcriptServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

const sampleTranscript = `{"speaker_id":"u1","text":"Let us review the roadmap","start_ts":0,"stop_ts":2000}
{"speaker_id":"a1","text":"The roadmap has three milestones","start_ts":2000,"stop_ts":6000}
`

func TestSummarizeEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runStore := testsupport.MustOpenRunStore(t, cfg)
	meetingStore := testsupport.MustOpenMeetingStore(t, cfg)
	seedMeetingData(t, meetingStore)
	server := transcriptServer(t, sampleTranscript)

	completer := &fakeCompleter{reply: "### Overview\nThe roadmap was reviewed.\n\n### Notes\n#### Roadmap\n- Three milestones"}
	wf := summarize.New(transcript.NewFetcherWithClient(server.Client()), completer, meetingStore)
	def := wf.Definition()
	if err := def.Validate(); err != nil {
		t.Fatalf("definition invalid: %v", err)
	}

	ctx := context.Background()
	payload, _ := json.Marshal(summarize.Event{MeetingID: "m1", TranscriptURL: server.URL})
	run, err := runStore.CreateRun(ctx, summarize.Kind, payload)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	executor := engine.NewExecutor(runStore, retry.DefaultPolicy(), nil,
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	if _, err := executor.Execute(ctx, run.ID, def, payload); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	meeting, err := meetingStore.GetMeeting(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if meeting.Status != meetings.StatusCompleted {
		t.Fatalf("expected completed status, got %q", meeting.Status)
	}
	if !strings.Contains(meeting.Summary, "Overview") || !strings.Contains(meeting.Summary, "Notes") {
		t.Fatalf("summary missing required sections: %q", meeting.Summary)
	}

	// The model sees resolved speaker names, not raw identifiers.
	if completer.calls != 1 {
		t.Fatalf("expected one completion call, got %d", completer.calls)
	}
	userPrompt := completer.last[len(completer.last)-1].Content
	if !strings.Contains(userPrompt, "Alice") || !strings.Contains(userPrompt, "Bot") {
		t.Fatalf("expected resolved names in prompt, got %q", userPrompt)
	}
}

func TestSummarizeMalformedTranscriptIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runStore := testsupport.MustOpenRunStore(t, cfg)
	meetingStore := testsupport.MustOpenMeetingStore(t, cfg)
	seedMeetingData(t, meetingStore)
	server := transcriptServer(t, "this is not jsonl")

	completer := &fakeCompleter{reply: "unused"}
	wf := summarize.New(transcript.NewFetcherWithClient(server.Client()), completer, meetingStore)

	ctx := context.Background()
	payload, _ := json.Marshal(summarize.Event{MeetingID: "m1", TranscriptURL: server.URL})
	run, err := runStore.CreateRun(ctx, summarize.Kind, payload)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	executor := engine.NewExecutor(runStore, retry.DefaultPolicy(), nil,
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	_, err = executor.Execute(ctx, run.ID, wf.Definition(), payload)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if completer.calls != 0 {
		t.Fatal("summarize must not run after a fatal parse failure")
	}

	meeting, err := meetingStore.GetMeeting(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if meeting.Status != meetings.StatusProcessing || meeting.Summary != "" {
		t.Fatalf("meeting must remain untouched, got %#v", meeting)
	}
}

func TestSummarizeEmptyCompletionIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runStore := testsupport.MustOpenRunStore(t, cfg)
	meetingStore := testsupport.MustOpenMeetingStore(t, cfg)
	seedMeetingData(t, meetingStore)
	server := transcriptServer(t, sampleTranscript)

	completer := &fakeCompleter{err: openai.ErrNoContent}
	wf := summarize.New(transcript.NewFetcherWithClient(server.Client()), completer, meetingStore)

	ctx := context.Background()
	payload, _ := json.Marshal(summarize.Event{MeetingID: "m1", TranscriptURL: server.URL})
	run, err := runStore.CreateRun(ctx, summarize.Kind, payload)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	executor := engine.NewExecutor(runStore, retry.DefaultPolicy(), nil,
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	_, err = executor.Execute(ctx, run.ID, wf.Definition(), payload)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if completer.calls != 1 {
		t.Fatalf("empty completions must not retry, got %d calls", completer.calls)
	}
}

func TestSummarizeResumeSkipsCompletedSteps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runStore := testsupport.MustOpenRunStore(t, cfg)
	meetingStore := testsupport.MustOpenMeetingStore(t, cfg)
	seedMeetingData(t, meetingStore)
	server := transcriptServer(t, sampleTranscript)

	completer := &fakeCompleter{err: services.Wrap(services.ErrTransient, "test", "llm", "503", nil)}
	wf := summarize.New(transcript.NewFetcherWithClient(server.Client()), completer, meetingStore)

	ctx := context.Background()
	payload, _ := json.Marshal(summarize.Event{MeetingID: "m1", TranscriptURL: server.URL})
	run, err := runStore.CreateRun(ctx, summarize.Kind, payload)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	executor := engine.NewExecutor(runStore, policy, nil,
		engine.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	if _, err := executor.Execute(ctx, run.ID, wf.Definition(), payload); err == nil {
		t.Fatal("expected first execution to fail at summarize")
	}

	// The LLM recovers; the re-run must reuse memoized transcript steps.
	server.Close()
	completer.err = nil
	completer.reply = "### Overview\nRecovered.\n\n### Notes\n- ok"
	if _, err := executor.Execute(ctx, run.ID, wf.Definition(), payload); err != nil {
		t.Fatalf("resumed Execute failed: %v", err)
	}

	meeting, err := meetingStore.GetMeeting(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if meeting.Status != meetings.StatusCompleted {
		t.Fatalf("expected completed meeting, got %q", meeting.Status)
	}
}
