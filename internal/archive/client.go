// Package archive notifies the external archive site that a category's
// transcript is complete and should be ingested.
package archive

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/polyctf/orgbot/internal/logging"
)

// ErrSyncFailed marks a handoff the archive site rejected or never
// answered. A transcript export that stored everything but failed here is
// reported distinctly so operators retry only the notification.
var ErrSyncFailed = errors.New("archive sync failed")

// Client posts signed update notifications to the archive site.
type Client struct {
	log        logging.Logger
	baseURL    string
	secret     []byte
	httpClient *http.Client
}

// New builds a Client. Ingestion walks the whole stored category, so the
// timeout is generous; zero means 10 minutes.
func New(log logging.Logger, baseURL, secret string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		log:        log,
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a handoff endpoint is set up at all.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// NotifyUpdate tells the archive site that categoryName has fresh
// transcript data. The body is JSON and carries a hex HMAC-SHA256
// signature in X-Signature.
func (c *Client) NotifyUpdate(ctx context.Context, categoryName string) error {
	body, err := json.Marshal(map[string]string{"category_name": categoryName})
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/update", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reply, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrSyncFailed, resp.StatusCode, reply)
	}

	c.log.Info(ctx, "archive notified", "category", categoryName)
	return nil
}
