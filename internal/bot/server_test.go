package bot

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonDecode(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	const secret = "shhh"
	env := newTestEnv(t)
	s := NewServer(discardLogger(), ":0", secret, env.dispatcher, env.exporter)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, secret
}

func TestCommandEndpoint_DispatchesSignedRequest(t *testing.T) {
	srv, secret := newTestServer(t)

	body := []byte(`{"command":"ping","channel_id":"c1","user":"alice#1234","args":{}}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/commands", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", sign(secret, body))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, jsonDecode(resp, &out))
	assert.Equal(t, "Pong!", out.Reply)
}

func TestCommandEndpoint_RejectsBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)

	body := []byte(`{"command":"ping"}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/commands", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Signature", sign("wrong secret", body))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCommandEndpoint_RejectsMissingSignature(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Post(srv.URL+"/commands", "application/json", bytes.NewReader([]byte(`{"command":"ping"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCommandEndpoint_RejectsMalformedBody(t *testing.T) {
	srv, secret := newTestServer(t)

	body := []byte(`not json`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/commands", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Signature", sign(secret, body))

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusListsJobs(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Jobs []any `json:"jobs"`
	}
	require.NoError(t, jsonDecode(resp, &out))
	assert.Empty(t, out.Jobs)
}
