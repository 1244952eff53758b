package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"recap/internal/meetings"
	"recap/internal/services"
)

// UnknownSpeaker is the display name used when a speaker identifier matches
// neither a user nor an agent record. An unmatched speaker is defined
// behavior, not a failure.
const UnknownSpeaker = "Unknown"

// Item is one utterance of the raw transcript.
type Item struct {
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
	StartTS   int64  `json:"start_ts"`
	StopTS    int64  `json:"stop_ts"`
}

// ResolvedItem is an Item with the speaker's display name denormalized in.
type ResolvedItem struct {
	Item
	SpeakerName string `json:"speaker_name"`
}

// ParseJSONL decodes newline-delimited transcript records. Blank lines are
// tolerated; any malformed line fails the whole document with a validation
// error, which the retry controller treats as fatal.
func ParseJSONL(data []byte) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			return nil, services.Wrap(services.ErrValidation, "transcript", "parse",
				fmt.Sprintf("malformed record on line %d", line), err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcript", "parse", "read document", err)
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrValidation, "transcript", "parse", "document contains no records", nil)
	}
	return items, nil
}

// SpeakerIDs returns the distinct speaker identifiers in first-seen order.
func SpeakerIDs(items []Item) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SpeakerID]; ok {
			continue
		}
		seen[item.SpeakerID] = struct{}{}
		ids = append(ids, item.SpeakerID)
	}
	return ids
}

// Resolve left-joins each item to its speaker, preferring users over agents
// when an identifier somehow appears in both tables, and preserving the
// original item order.
func Resolve(items []Item, users []meetings.User, agents []meetings.Agent) []ResolvedItem {
	names := make(map[string]string, len(users)+len(agents))
	for _, agent := range agents {
		names[agent.ID] = agent.Name
	}
	for _, user := range users {
		names[user.ID] = user.Name
	}

	resolved := make([]ResolvedItem, 0, len(items))
	for _, item := range items {
		name, ok := names[item.SpeakerID]
		if !ok || strings.TrimSpace(name) == "" {
			name = UnknownSpeaker
		}
		resolved = append(resolved, ResolvedItem{Item: item, SpeakerName: name})
	}
	return resolved
}
