// Package summarize defines the transcript summarization workflow: download
// a meeting transcript, resolve its speakers, produce a markdown summary,
// and persist it onto the meeting record exactly once.
package summarize

import (
	"context"
	"errors"
	"strings"

	"recap/internal/engine"
	"recap/internal/meetings"
	"recap/internal/services"
	"recap/internal/services/openai"
	"recap/internal/transcript"
)

// Kind identifies summarization runs in the run store.
const Kind = "transcript.summarize"

// Event is the payload of a transcript-ready trigger.
type Event struct {
	MeetingID     string `json:"meeting_id"`
	TranscriptURL string `json:"transcript_url"`
}

// Completer is the text-generation surface the summarize step needs.
type Completer interface {
	Complete(ctx context.Context, messages []openai.Message) (string, error)
}

// Fetcher downloads raw transcript content.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// MeetingDirectory is the slice of the meeting store this workflow reads
// and writes.
type MeetingDirectory interface {
	UsersByIDs(ctx context.Context, ids []string) ([]meetings.User, error)
	AgentsByIDs(ctx context.Context, ids []string) ([]meetings.Agent, error)
	SetMeetingSummary(ctx context.Context, id, summary string) error
}

// Workflow wires the summarization steps to their dependencies.
type Workflow struct {
	fetcher   Fetcher
	completer Completer
	meetings  MeetingDirectory
}

// New constructs the workflow.
func New(fetcher Fetcher, completer Completer, directory MeetingDirectory) *Workflow {
	return &Workflow{fetcher: fetcher, completer: completer, meetings: directory}
}

// Definition returns the ordered step list. Step names are stable; they key
// the memoization log and must not change across releases.
func (w *Workflow) Definition() engine.Definition {
	return engine.Definition{
		Kind: Kind,
		Steps: []engine.Step{
			{Name: "fetch_transcript", Fn: w.fetchTranscript},
			{Name: "parse_transcript", Fn: w.parseTranscript},
			{Name: "resolve_speakers", Fn: w.resolveSpeakers},
			{Name: "summarize", Fn: w.summarize},
			{Name: "persist_summary", Fn: w.persistSummary},
		},
	}
}

func (w *Workflow) fetchTranscript(ctx context.Context, sc *engine.StepContext) (any, error) {
	var event Event
	if err := sc.Event(&event); err != nil {
		return nil, services.Wrap(services.ErrValidation, "summarize", "fetch_transcript", "decode event", err)
	}
	body, err := w.fetcher.Fetch(ctx, event.TranscriptURL)
	if err != nil {
		return nil, err
	}
	return string(body), nil
}

func (w *Workflow) parseTranscript(ctx context.Context, sc *engine.StepContext) (any, error) {
	var raw string
	if err := sc.Output("fetch_transcript", &raw); err != nil {
		return nil, err
	}
	items, err := transcript.ParseJSONL([]byte(raw))
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (w *Workflow) resolveSpeakers(ctx context.Context, sc *engine.StepContext) (any, error) {
	var items []transcript.Item
	if err := sc.Output("parse_transcript", &items); err != nil {
		return nil, err
	}
	ids := transcript.SpeakerIDs(items)
	users, err := w.meetings.UsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	agents, err := w.meetings.AgentsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return transcript.Resolve(items, users, agents), nil
}

func (w *Workflow) summarize(ctx context.Context, sc *engine.StepContext) (any, error) {
	resolved, ok := sc.RawOutput("resolve_speakers")
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "summarize", "summarize", "resolved transcript missing", nil)
	}
	content, err := w.completer.Complete(ctx, []openai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPromptPrefix + string(resolved)},
	})
	if err != nil {
		// A summary must exist for the meeting to complete, so an empty
		// completion is a hard failure here, unlike the chat reply path.
		if errors.Is(err, openai.ErrNoContent) {
			return nil, services.Wrap(services.ErrValidation, "summarize", "summarize", "model returned empty summary", err)
		}
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, services.Wrap(services.ErrValidation, "summarize", "summarize", "model returned empty summary", nil)
	}
	return content, nil
}

func (w *Workflow) persistSummary(ctx context.Context, sc *engine.StepContext) (any, error) {
	var event Event
	if err := sc.Event(&event); err != nil {
		return nil, services.Wrap(services.ErrValidation, "summarize", "persist_summary", "decode event", err)
	}
	var summary string
	if err := sc.Output("summarize", &summary); err != nil {
		return nil, err
	}
	if err := w.meetings.SetMeetingSummary(ctx, event.MeetingID, summary); err != nil {
		return nil, err
	}
	return summary, nil
}
