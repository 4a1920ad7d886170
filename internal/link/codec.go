// Package link encodes and decodes the channel link record: a small JSON
// blob embedded in a pinned chat message that binds the channel to a remote
// (CTF id, task id) pair. The pinned message is the bot's only durable
// store, so the record must survive restarts and round-trip exactly.
package link

import (
	"encoding/json"
	"strings"

	"github.com/polyctf/orgbot/internal/chat"
)

// Marker substrings identifying the bot's link message among the pins.
// Both must be present: URLMarker makes the message recognizable, DBMarker
// carries the record itself.
const (
	DBMarker  = "botdb:"
	URLMarker = "ctfnote url:"
)

// ChannelLink binds a channel to a remote CTF and, optionally, a task.
type ChannelLink struct {
	CtfID  int  `json:"ctfid"`
	TaskID *int `json:"chalid,omitempty"`
}

// Encode renders the record as the embedded block appended to a link
// message, e.g. "\n||botdb:{"ctfid":42,"chalid":7}||". The platform
// renders ||...|| as a spoiler, keeping the blob out of the way visually.
func Encode(l ChannelLink) string {
	b, _ := json.Marshal(l)
	return "\n||" + DBMarker + string(b) + "||"
}

// Decode scans pinned messages for the bot's link record and parses it.
// It returns ok=false (never an error) when no pinned message carries both
// markers, the record line is missing, or the JSON is malformed: a corrupt
// link degrades to "no binding known" rather than aborting the command.
func Decode(pinned []chat.Message) (ChannelLink, bool) {
	for _, msg := range pinned {
		if !strings.Contains(msg.Content, DBMarker) || !strings.Contains(msg.Content, URLMarker) {
			continue
		}
		return decodeBody(msg.Content)
	}
	return ChannelLink{}, false
}

func decodeBody(content string) (ChannelLink, bool) {
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "||"+DBMarker) {
			continue
		}
		parts := strings.Split(line, "||")
		if len(parts) != 3 {
			return ChannelLink{}, false
		}
		raw := strings.TrimPrefix(parts[1], DBMarker)
		var l ChannelLink
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return ChannelLink{}, false
		}
		return l, true
	}
	return ChannelLink{}, false
}
