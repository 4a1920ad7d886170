package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

const historyPageSize = 100

// RESTSession implements Session on top of the platform's HTTP API.
type RESTSession struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRESTSession(baseURL, token string) *RESTSession {
	return &RESTSession{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is returned for non-2xx platform responses.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// do performs one authenticated JSON round-trip. Rate-limit and server
// errors are retried with backoff; everything else surfaces immediately.
func (s *RESTSession) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+s.token)
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &apiError{Status: resp.StatusCode, Body: string(b)}
			if retryable(resp.StatusCode) {
				return retry.RetryableError(apiErr)
			}
			return apiErr
		}

		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (s *RESTSession) SendMessage(ctx context.Context, channelID, content string) (Message, error) {
	var msg Message
	err := s.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", map[string]string{"content": content}, &msg)
	return msg, err
}

func (s *RESTSession) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	return s.do(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, map[string]string{"content": content}, nil)
}

func (s *RESTSession) PinMessage(ctx context.Context, channelID, messageID string) error {
	return s.do(ctx, http.MethodPut, "/channels/"+channelID+"/pins/"+messageID, nil, nil)
}

func (s *RESTSession) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return s.do(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

func (s *RESTSession) PinnedMessages(ctx context.Context, channelID string) ([]Message, error) {
	var raws []json.RawMessage
	if err := s.do(ctx, http.MethodGet, "/channels/"+channelID+"/pins", nil, &raws); err != nil {
		return nil, err
	}
	return decodeMessages(raws)
}

func (s *RESTSession) Channel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	err := s.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch)
	return ch, err
}

func (s *RESTSession) ChannelRaw(ctx context.Context, channelID string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := s.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &raw)
	return raw, err
}

func (s *RESTSession) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var chs []Channel
	err := s.do(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", nil, &chs)
	return chs, err
}

func (s *RESTSession) CreateChannel(ctx context.Context, guildID, name, parentID string) (Channel, error) {
	body := map[string]any{"name": name, "type": TypeText}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var ch Channel
	err := s.do(ctx, http.MethodPost, "/guilds/"+guildID+"/channels", body, &ch)
	return ch, err
}

func (s *RESTSession) CreateCategory(ctx context.Context, guildID, name string, position int) (Channel, error) {
	body := map[string]any{"name": name, "type": TypeCategory, "position": position}
	var ch Channel
	err := s.do(ctx, http.MethodPost, "/guilds/"+guildID+"/channels", body, &ch)
	return ch, err
}

func (s *RESTSession) RenameChannel(ctx context.Context, channelID, name string) error {
	return s.do(ctx, http.MethodPatch, "/channels/"+channelID, map[string]any{"name": name}, nil)
}

func (s *RESTSession) MoveChannel(ctx context.Context, channelID, parentID string) error {
	return s.do(ctx, http.MethodPatch, "/channels/"+channelID, map[string]any{"parent_id": parentID}, nil)
}

func (s *RESTSession) DeleteChannel(ctx context.Context, channelID string) error {
	return s.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
}

// HistoryPage fetches one page of messages strictly newer than afterID.
// The platform returns pages newest first, so the page is reversed before
// returning to honor the oldest-first contract. An empty afterID anchors
// at id 0: without an explicit anchor the endpoint serves the newest
// messages, which would start a history walk mid-channel.
func (s *RESTSession) HistoryPage(ctx context.Context, channelID, afterID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}
	if afterID == "" {
		afterID = "0"
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "after": {afterID}}

	var raws []json.RawMessage
	if err := s.do(ctx, http.MethodGet, "/channels/"+channelID+"/messages?"+q.Encode(), nil, &raws); err != nil {
		return nil, err
	}

	msgs, err := decodeMessages(raws)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func decodeMessages(raws []json.RawMessage) ([]Message, error) {
	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		m.Raw = raw
		msgs = append(msgs, m)
	}
	return msgs, nil
}
