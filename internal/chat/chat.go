// Package chat defines the capability surface the bot needs from the chat
// platform: sending and pinning messages, editing channels, and reading
// message history. The gateway/event side of the platform is out of scope;
// everything here maps onto plain authenticated REST calls.
package chat

import (
	"context"
	"encoding/json"
)

// Channel type values as used by the platform. Only the two the bot cares
// about are named.
const (
	TypeText     = 0
	TypeCategory = 4
)

// User identifies a chat platform account.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
}

// Login is the "name#discriminator" form used as the remote account login
// for guest provisioning. Accounts without a discriminator use the bare
// name; a trailing separator would leak into the remote login.
func (u User) Login() string {
	if u.Discriminator == "" {
		return u.Name
	}
	return u.Name + "#" + u.Discriminator
}

// Message is the typed view of a channel message. Raw preserves the full
// platform JSON for transcript export.
type Message struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channel_id"`
	Content   string          `json:"content"`
	Pinned    bool            `json:"pinned"`
	Author    User            `json:"author"`
	Raw       json.RawMessage `json:"-"`
}

// Channel is a guild channel or category. Categories are channels with
// Type == TypeCategory; text channels point at their category via ParentID.
type Channel struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Position int    `json:"position"`
	ParentID string `json:"parent_id"`
}

// Session is the platform capability surface consumed by the engines.
//
// All methods honor context cancellation. HistoryPage returns up to limit
// messages strictly newer than afterID, ordered oldest first; a short page
// means the channel history is exhausted.
type Session interface {
	SendMessage(ctx context.Context, channelID, content string) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	PinMessage(ctx context.Context, channelID, messageID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	PinnedMessages(ctx context.Context, channelID string) ([]Message, error)

	Channel(ctx context.Context, channelID string) (Channel, error)
	ChannelRaw(ctx context.Context, channelID string) (json.RawMessage, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	CreateChannel(ctx context.Context, guildID, name, parentID string) (Channel, error)
	CreateCategory(ctx context.Context, guildID, name string, position int) (Channel, error)
	RenameChannel(ctx context.Context, channelID, name string) error
	MoveChannel(ctx context.Context, channelID, parentID string) error
	DeleteChannel(ctx context.Context, channelID string) error

	HistoryPage(ctx context.Context, channelID, afterID string, limit int) ([]Message, error)
}

// TextChannelsIn filters channels down to the text channels that live under
// the given category.
func TextChannelsIn(channels []Channel, categoryID string) []Channel {
	var out []Channel
	for _, ch := range channels {
		if ch.Type == TypeText && ch.ParentID == categoryID {
			out = append(out, ch)
		}
	}
	return out
}

// FindCategory returns the category channel with the given name, if present.
func FindCategory(channels []Channel, name string) (Channel, bool) {
	for _, ch := range channels {
		if ch.Type == TypeCategory && ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}
