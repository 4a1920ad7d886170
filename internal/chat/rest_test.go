package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, handler http.Handler) *RESTSession {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewRESTSession(srv.URL, "token123")
	s.client = srv.Client()
	return s
}

func TestSendMessage_AuthorizationHeader(t *testing.T) {
	var gotAuth string
	s := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Message{ID: "m1"})
	}))

	msg, err := s.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "Bot token123", gotAuth)
}

func TestDo_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	s := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Message{ID: "m1"})
	}))

	_, err := s.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	s := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "missing permission", http.StatusForbidden)
	}))

	_, err := s.SendMessage(context.Background(), "c1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHistoryPage_ReversesToOldestFirst(t *testing.T) {
	var gotQuery string
	s := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		// Platform order: newest first.
		w.Write([]byte(`[{"id":"3"},{"id":"2"},{"id":"1"}]`))
	}))

	msgs, err := s.HistoryPage(context.Background(), "c1", "0", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "3", msgs[2].ID)
	assert.Contains(t, gotQuery, "after=0")
	assert.Contains(t, gotQuery, "limit=50")

	for _, m := range msgs {
		assert.NotEmpty(t, m.Raw, "raw platform JSON is preserved")
	}
}

// historyHandler emulates the real messages endpoint: messages strictly
// newer than the after anchor, newest first. A request without an anchor
// gets the newest page, not the oldest.
func historyHandler(t *testing.T, total int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after := 0
		if raw := r.URL.Query().Get("after"); raw != "" {
			var err error
			after, err = strconv.Atoi(raw)
			require.NoError(t, err)
		} else {
			after = total - historyPageSize
			if after < 0 {
				after = 0
			}
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)

		var page []Message
		for id := total; id > after && len(page) < limit; id-- {
			if id <= after+limit {
				page = append(page, Message{ID: strconv.Itoa(id)})
			}
		}
		json.NewEncoder(w).Encode(page)
	})
}

func TestHistoryPage_EmptyAnchorStartsAtOldest(t *testing.T) {
	s := newSession(t, historyHandler(t, 150))

	msgs, err := s.HistoryPage(context.Background(), "c1", "", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 100)
	assert.Equal(t, "1", msgs[0].ID, "first page must begin at the start of history")
	assert.Equal(t, "100", msgs[99].ID)
}

func TestHistoryPage_WalksFullHistoryOldestFirst(t *testing.T) {
	s := newSession(t, historyHandler(t, 150))

	var all []Message
	afterID := ""
	for {
		page, err := s.HistoryPage(context.Background(), "c1", afterID, 100)
		require.NoError(t, err)
		all = append(all, page...)
		if len(page) < 100 {
			break
		}
		afterID = page[len(page)-1].ID
	}

	require.Len(t, all, 150, "no part of the history may be skipped")
	for i, m := range all {
		assert.Equal(t, strconv.Itoa(i+1), m.ID)
	}
}

func TestTextChannelsIn(t *testing.T) {
	channels := []Channel{
		{ID: "cat1", Name: "rev", Type: TypeCategory},
		{ID: "c1", Name: "rev-baby", Type: TypeText, ParentID: "cat1"},
		{ID: "c2", Name: "general", Type: TypeText, ParentID: "other"},
		{ID: "cat2", Name: "pwn", Type: TypeCategory},
	}
	got := TextChannelsIn(channels, "cat1")
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
}

func TestFindCategory(t *testing.T) {
	channels := []Channel{
		{ID: "c1", Name: "rev", Type: TypeText},
		{ID: "cat1", Name: "rev", Type: TypeCategory},
	}
	got, ok := FindCategory(channels, "rev")
	require.True(t, ok)
	assert.Equal(t, "cat1", got.ID, "a text channel with the same name is not a category")

	_, ok = FindCategory(channels, "pwn")
	assert.False(t, ok)
}

func TestUserLogin(t *testing.T) {
	u := User{Name: "alice", Discriminator: "1234"}
	assert.Equal(t, "alice#1234", u.Login())

	u = User{Name: "alice"}
	assert.Equal(t, "alice", u.Login(), "no trailing separator without a discriminator")
}
