package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"recap/internal/workflows/chatreply"
	"recap/internal/workflows/summarize"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Submit events to the running daemon",
	}
	sendCmd.AddCommand(newSendTranscriptReadyCommand(ctx))
	sendCmd.AddCommand(newSendChatMessageCommand(ctx))
	return sendCmd
}

func newSendTranscriptReadyCommand(ctx *commandContext) *cobra.Command {
	var meetingID, transcriptURL string

	cmd := &cobra.Command{
		Use:   "transcript-ready",
		Short: "Trigger transcript summarization for a meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			event := summarize.Event{MeetingID: meetingID, TranscriptURL: transcriptURL}
			return postEvent(ctx, cmd, "/events/transcript-ready", event)
		},
	}

	cmd.Flags().StringVar(&meetingID, "meeting", "", "Meeting identifier")
	cmd.Flags().StringVar(&transcriptURL, "url", "", "Transcript download URL")
	_ = cmd.MarkFlagRequired("meeting")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newSendChatMessageCommand(ctx *commandContext) *cobra.Command {
	var userID, channelID, text, agentID, meetingID string

	cmd := &cobra.Command{
		Use:   "chat-message",
		Short: "Trigger a contextual chat reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			event := chatreply.Event{
				UserID:    userID,
				ChannelID: channelID,
				Text:      text,
				AgentID:   agentID,
				MeetingID: meetingID,
			}
			return postEvent(ctx, cmd, "/events/chat-message", event)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Sending user identifier")
	cmd.Flags().StringVar(&channelID, "channel", "", "Chat channel identifier")
	cmd.Flags().StringVar(&text, "text", "", "Message text")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent identifier")
	cmd.Flags().StringVar(&meetingID, "meeting", "", "Meeting identifier")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("text")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("meeting")
	return cmd
}

func postEvent(ctx *commandContext, cmd *cobra.Command, path string, event any) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return fmt.Errorf("api_bind is not configured; the daemon has no intake address")
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	url := "http://" + bind + path
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(cfg.Paths.APIToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon at %s: %w", bind, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon rejected event (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var accepted struct {
		RunID    string `json:"run_id"`
		Workflow string `json:"workflow"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Accepted: workflow %s run %s\n", accepted.Workflow, accepted.RunID)
	return nil
}
