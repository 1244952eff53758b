// Package chatreply defines the contextual chat reply workflow: a user
// message in a completed meeting's channel is answered by the meeting's
// agent, grounded in the stored summary and the recent channel history.
package chatreply

import (
	"context"
	"errors"
	"strings"

	"recap/internal/avatar"
	"recap/internal/engine"
	"recap/internal/meetings"
	"recap/internal/services"
	"recap/internal/services/openai"
	"recap/internal/services/streamchat"
)

// Kind identifies chat reply runs in the run store.
const Kind = "chat.reply"

// Event is the payload of a chat-message trigger.
type Event struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	AgentID   string `json:"agent_id"`
	MeetingID string `json:"meeting_id"`
}

// Completer is the text-generation surface the reply step needs.
type Completer interface {
	Complete(ctx context.Context, messages []openai.Message) (string, error)
}

// ChatChannel is the slice of the chat service this workflow uses.
type ChatChannel interface {
	QueryMessages(ctx context.Context, channelID string, limit int) ([]streamchat.Message, error)
	UpsertUser(ctx context.Context, user streamchat.User) error
	SendMessage(ctx context.Context, channelID string, message streamchat.Message) error
}

// MeetingDirectory is the read-only slice of the meeting store this
// workflow consults.
type MeetingDirectory interface {
	GetMeeting(ctx context.Context, id string) (*meetings.Meeting, error)
	GetAgent(ctx context.Context, id string) (*meetings.Agent, error)
}

// Workflow wires the reply steps to their dependencies.
type Workflow struct {
	chat         ChatChannel
	completer    Completer
	meetings     MeetingDirectory
	historyLimit int
}

// New constructs the workflow. historyLimit bounds how many prior channel
// messages are replayed into the model's context.
func New(chat ChatChannel, completer Completer, directory MeetingDirectory, historyLimit int) *Workflow {
	if historyLimit <= 0 {
		historyLimit = 5
	}
	return &Workflow{chat: chat, completer: completer, meetings: directory, historyLimit: historyLimit}
}

// replyContext is the load_context output threaded through later steps.
type replyContext struct {
	Summary           string `json:"summary"`
	AgentID           string `json:"agent_id"`
	AgentName         string `json:"agent_name"`
	AgentInstructions string `json:"agent_instructions"`
}

// Definition returns the ordered step list. Step names are the memoization
// keys and must stay stable.
func (w *Workflow) Definition() engine.Definition {
	return engine.Definition{
		Kind: Kind,
		Steps: []engine.Step{
			{Name: "load_context", Fn: w.loadContext},
			{Name: "build_instructions", Fn: w.buildInstructions},
			{Name: "fetch_history", Fn: w.fetchHistory},
			{Name: "generate_reply", Fn: w.generateReply},
			{Name: "publish_reply", Fn: w.publishReply},
		},
	}
}

func (w *Workflow) loadContext(ctx context.Context, sc *engine.StepContext) (any, error) {
	var event Event
	if err := sc.Event(&event); err != nil {
		return nil, services.Wrap(services.ErrValidation, "chatreply", "load_context", "decode event", err)
	}
	meeting, err := w.meetings.GetMeeting(ctx, event.MeetingID)
	if err != nil {
		return nil, err
	}
	agent, err := w.meetings.GetAgent(ctx, event.AgentID)
	if err != nil {
		return nil, err
	}
	return replyContext{
		Summary:           meeting.Summary,
		AgentID:           agent.ID,
		AgentName:         agent.Name,
		AgentInstructions: agent.Instructions,
	}, nil
}

func (w *Workflow) buildInstructions(ctx context.Context, sc *engine.StepContext) (any, error) {
	var rc replyContext
	if err := sc.Output("load_context", &rc); err != nil {
		return nil, err
	}
	return buildInstructions(rc.Summary, rc.AgentInstructions), nil
}

// fetchHistory replays recent channel messages as chat turns. Messages
// authored by the agent become assistant turns; everything else is a user
// turn. Empty messages are dropped.
func (w *Workflow) fetchHistory(ctx context.Context, sc *engine.StepContext) (any, error) {
	var event Event
	if err := sc.Event(&event); err != nil {
		return nil, services.Wrap(services.ErrValidation, "chatreply", "fetch_history", "decode event", err)
	}
	var rc replyContext
	if err := sc.Output("load_context", &rc); err != nil {
		return nil, err
	}

	history, err := w.chat.QueryMessages(ctx, event.ChannelID, w.historyLimit)
	if err != nil {
		return nil, err
	}

	turns := make([]openai.Message, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		role := "user"
		if msg.UserID == rc.AgentID {
			role = "assistant"
		}
		turns = append(turns, openai.Message{Role: role, Content: msg.Text})
	}
	return turns, nil
}

// generateReply asks the model for an answer. An empty completion is a
// deliberate non-answer, recorded as an empty result rather than a failure.
func (w *Workflow) generateReply(ctx context.Context, sc *engine.StepContext) (any, error) {
	var event Event
	if err := sc.Event(&event); err != nil {
		return nil, services.Wrap(services.ErrValidation, "chatreply", "generate_reply", "decode event", err)
	}
	var instructions string
	if err := sc.Output("build_instructions", &instructions); err != nil {
		return nil, err
	}
	var history []openai.Message
	if err := sc.Output("fetch_history", &history); err != nil {
		return nil, err
	}

	messages := make([]openai.Message, 0, len(history)+2)
	messages = append(messages, openai.Message{Role: "system", Content: instructions})
	messages = append(messages, history...)
	messages = append(messages, openai.Message{Role: "user", Content: event.Text})

	content, err := w.completer.Complete(ctx, messages)
	if err != nil {
		if errors.Is(err, openai.ErrNoContent) {
			return "", nil
		}
		return nil, err
	}
	return content, nil
}

// publishReply posts the generated answer as the agent. The agent's chat
// profile is upserted first so the message renders with a name and avatar.
// An empty reply publishes nothing and still succeeds.
func (w *Workflow) publishReply(ctx context.Context, sc *engine.StepContext) (any, error) {
	var event Event
	if err := sc.Event(&event); err != nil {
		return nil, services.Wrap(services.ErrValidation, "chatreply", "publish_reply", "decode event", err)
	}
	var reply string
	if err := sc.Output("generate_reply", &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		return false, nil
	}
	var rc replyContext
	if err := sc.Output("load_context", &rc); err != nil {
		return nil, err
	}

	image := avatar.GeneratedURI(rc.AgentName, avatar.VariantBotttsNeutral)
	if err := w.chat.UpsertUser(ctx, streamchat.User{ID: rc.AgentID, Name: rc.AgentName, Image: image}); err != nil {
		return nil, err
	}
	if err := w.chat.SendMessage(ctx, event.ChannelID, streamchat.Message{Text: reply, UserID: rc.AgentID}); err != nil {
		return nil, err
	}
	return true, nil
}
