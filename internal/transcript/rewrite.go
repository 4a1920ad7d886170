package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
)

// Platform CDN endpoints the raw message JSON references by id rather than
// by full URL.
const (
	cdnBaseURL   = "https://cdn.discordapp.com"
	mediaBaseURL = "https://media.discordapp.net"
)

// rewriteMessage returns a copy of the raw message with every asset
// reference either rehosted (URL replaced by the bucket path) or, for
// assets the CDN no longer serves, left pointing at the original URL.
func (e *Exporter) rewriteMessage(ctx context.Context, raw json.RawMessage) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	if err := e.saveAuthorAvatar(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.rewriteStickers(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.rewriteAttachments(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.rewriteEmbeds(ctx, msg); err != nil {
		return nil, err
	}
	if err := e.rewriteReactions(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// saveAuthorAvatar rehosts the author's avatar so it renders in the
// archived transcript. The message JSON references avatars by hash, not
// URL, so nothing in the message itself changes.
func (e *Exporter) saveAuthorAvatar(ctx context.Context, msg map[string]any) error {
	author, ok := msg["author"].(map[string]any)
	if !ok {
		return nil
	}
	id, _ := author["id"].(string)
	hash, _ := author["avatar"].(string)
	if id == "" || hash == "" {
		return nil
	}
	url := fmt.Sprintf("%s/avatars/%s/%s.png?size=1024", cdnBaseURL, id, hash)
	_, err := e.store.SaveURL(ctx, url, "")
	return err
}

func (e *Exporter) rewriteStickers(ctx context.Context, msg map[string]any) error {
	stickers, ok := msg["sticker_items"].([]any)
	if !ok {
		return nil
	}
	for _, item := range stickers {
		sticker, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := sticker["id"].(string)
		if id == "" {
			continue
		}
		url := fmt.Sprintf("%s/stickers/%s.png?size=256&passthrough=false", mediaBaseURL, id)
		newURL, err := e.store.SaveURL(ctx, url, "")
		if err != nil {
			return err
		}
		sticker["url"] = newURL
	}
	return nil
}

func (e *Exporter) rewriteAttachments(ctx context.Context, msg map[string]any) error {
	attachments, ok := msg["attachments"].([]any)
	if !ok {
		return nil
	}
	for _, item := range attachments {
		attachment, ok := item.(map[string]any)
		if !ok {
			continue
		}
		url, _ := attachment["url"].(string)
		if url == "" {
			continue
		}
		newURL, err := e.store.SaveURL(ctx, url, "")
		if err != nil {
			return err
		}
		attachment["url"] = newURL
		attachment["proxy_url"] = newURL
	}
	return nil
}

// rewriteEmbeds rehosts embed media under a provider-scoped path. Embed
// URLs point at arbitrary third-party hosts, so the key is derived from
// the provider name instead of the URL path.
func (e *Exporter) rewriteEmbeds(ctx context.Context, msg map[string]any) error {
	embeds, ok := msg["embeds"].([]any)
	if !ok {
		return nil
	}
	for _, item := range embeds {
		embed, ok := item.(map[string]any)
		if !ok {
			continue
		}
		provider := "unknown"
		if p, ok := embed["provider"].(map[string]any); ok {
			if name, _ := p["name"].(string); name != "" {
				provider = name
			}
		}
		base := path.Join("assets", "embeds", provider)

		if video, ok := embed["video"].(map[string]any); ok {
			if url, _ := video["url"].(string); url != "" {
				newURL, err := e.store.SaveURL(ctx, url, path.Join(base, "video.mp4"))
				if err != nil {
					return err
				}
				video["url"] = newURL
			}
		}
		if thumb, ok := embed["thumbnail"].(map[string]any); ok {
			if url, _ := thumb["proxy_url"].(string); url != "" {
				newURL, err := e.store.SaveURL(ctx, url, path.Join(base, "thumbnail.png"))
				if err != nil {
					return err
				}
				thumb["url"] = newURL
				thumb["proxy_url"] = newURL
			}
		}
		if image, ok := embed["image"].(map[string]any); ok {
			if url, _ := image["proxy_url"].(string); url != "" {
				newURL, err := e.store.SaveURL(ctx, url, path.Join(base, "image.png"))
				if err != nil {
					return err
				}
				image["url"] = newURL
				image["proxy_url"] = newURL
			}
		}
	}
	return nil
}

// rewriteReactions rehosts custom emoji; unicode emoji have no id and need
// nothing.
func (e *Exporter) rewriteReactions(ctx context.Context, msg map[string]any) error {
	reactions, ok := msg["reactions"].([]any)
	if !ok {
		return nil
	}
	for _, item := range reactions {
		reaction, ok := item.(map[string]any)
		if !ok {
			continue
		}
		emoji, ok := reaction["emoji"].(map[string]any)
		if !ok {
			continue
		}
		id, _ := emoji["id"].(string)
		if id == "" {
			continue
		}
		url := fmt.Sprintf("%s/emojis/%s.png", cdnBaseURL, id)
		newURL, err := e.store.SaveURL(ctx, url, "")
		if err != nil {
			return err
		}
		emoji["url"] = newURL
	}
	return nil
}
