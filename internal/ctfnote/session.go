package ctfnote

import (
	"context"
	"sync"

	"github.com/polyctf/orgbot/internal/logging"
)

// Session holds the currently configured CTFNote endpoint and credentials
// and hands out an authenticated Client. Reconfigure replaces the handle
// atomically; operations already running on the old handle complete against
// the old session.
type Session struct {
	mu       sync.Mutex
	log      logging.Logger
	url      string
	login    string
	password string
	client   *Client
}

func NewSession(log logging.Logger, url, login, password string) *Session {
	return &Session{log: log, url: url, login: login, password: password}
}

// Client returns an authenticated client for the current configuration,
// logging in on first use and re-logging-in when the stored token expired.
// The login happens outside the lock so one slow login does not serialize
// every concurrent command; the snapshot is re-checked before committing
// so a Reconfigure that raced the login wins.
func (s *Session) Client(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	url, login, password := s.url, s.login, s.password
	if url == "" || login == "" {
		s.mu.Unlock()
		return nil, ErrNotConfigured
	}
	if s.client != nil && !s.client.TokenExpired() {
		c := s.client
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c := NewClient(url)
	if err := c.Login(ctx, login, password); err != nil {
		s.log.Error(ctx, "ctfnote login failed", "url", url, "login", login, "err", err)
		return nil, err
	}
	s.log.Info(ctx, "ctfnote session established", "url", url, "login", login)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.url != url || s.login != login || s.password != password {
		// Reconfigured while we were logging in; the fresh client is still
		// valid for the credentials it was built with, but the session
		// keeps the newer configuration.
		return c, nil
	}
	if s.client == nil || s.client.TokenExpired() {
		s.client = c
	}
	return s.client, nil
}

// Reconfigure swaps the endpoint and credentials, verifying them with a
// login before committing. On failure the previous configuration stays in
// place.
func (s *Session) Reconfigure(ctx context.Context, url, login, password string) error {
	c := NewClient(url)
	if err := c.Login(ctx, login, password); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.login = login
	s.password = password
	s.client = c
	s.log.Info(ctx, "ctfnote session reconfigured", "url", url, "login", login)
	return nil
}
