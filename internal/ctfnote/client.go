// Package ctfnote is a typed client for the CTFNote GraphQL API. Remote
// responses are mapped into CTF/Task/Profile records at this boundary;
// nothing above it sees raw GraphQL shapes.
package ctfnote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

// RoleMember is the invitation role used for guest accounts.
const RoleMember = "USER_MEMBER"

const datetimeLayout = "2006-01-02T15:04:05Z"

// Client talks to one CTFNote instance. The zero value is not usable;
// construct with NewClient and authenticate with Login or RegisterWithToken.
// Client is not safe for concurrent reconfiguration; the Session holder
// owns handle replacement.
type Client struct {
	baseURL    string
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient builds an unauthenticated client for the CTFNote instance at
// baseURL (without the /graphql suffix).
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    base,
		endpoint:   base + "/graphql",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the instance URL, used to build human-readable task links.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TokenExpired reports whether the bearer token is absent or past its
// expiry. The token is inspected without signature verification; the
// server remains the authority and will still reject a forged token.
func (c *Client) TokenExpired() bool {
	if c.token == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// execute performs one GraphQL operation and decodes the data envelope into
// out. Transport failures are retried briefly and surface as ErrUnreachable;
// server-side rejections surface as ErrQueryRejected.
func (c *Client) execute(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}

	var gr gqlResponse
	backoff := retry.WithMaxRetries(2, retry.NewExponential(300*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrUnreachable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: status %d", ErrQueryRejected, resp.StatusCode)
		}

		gr = gqlResponse{}
		return json.NewDecoder(resp.Body).Decode(&gr)
	})
	if err != nil {
		return err
	}

	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("%w: %s", ErrQueryRejected, strings.Join(msgs, "; "))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(gr.Data, out)
}

// Login authenticates with username and password and stores the bearer
// token for subsequent calls.
func (c *Client) Login(ctx context.Context, login, password string) error {
	var out struct {
		Login struct {
			Jwt string `json:"jwt"`
		} `json:"login"`
	}
	if err := c.execute(ctx, loginQuery, map[string]any{"login": login, "password": password}, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	c.token = out.Login.Jwt
	return nil
}

// RegisterWithToken creates a new account using an invitation token and
// stores the resulting bearer token.
func (c *Client) RegisterWithToken(ctx context.Context, login, password, token string) error {
	var out struct {
		RegisterWithToken struct {
			Jwt string `json:"jwt"`
		} `json:"registerWithToken"`
	}
	vars := map[string]any{"login": login, "password": password, "token": token}
	if err := c.execute(ctx, registerWithTokenQuery, vars, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	c.token = out.RegisterWithToken.Jwt
	return nil
}

// Me returns the profile of the authenticated account.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var out struct {
		Me Profile `json:"me"`
	}
	err := c.execute(ctx, getMeQuery, nil, &out)
	return out.Me, err
}

// ListCtfs returns every CTF known to the instance, without tasks.
func (c *Client) ListCtfs(ctx context.Context) ([]CTF, error) {
	var out struct {
		Ctfs nodes[CTF] `json:"ctfs"`
	}
	err := c.execute(ctx, getCtfsQuery, nil, &out)
	return out.Ctfs.Nodes, err
}

// ListIncomingCtfs returns upcoming CTFs, including currently running ones.
func (c *Client) ListIncomingCtfs(ctx context.Context) ([]CTF, error) {
	var out struct {
		IncomingCtf nodes[CTF] `json:"incomingCtf"`
	}
	err := c.execute(ctx, getIncomingCtfsQuery, nil, &out)
	return out.IncomingCtf.Nodes, err
}

// ListPastCtfs returns a page of finished CTFs.
func (c *Client) ListPastCtfs(ctx context.Context, first, offset int) ([]CTF, error) {
	var out struct {
		PastCtf nodes[CTF] `json:"pastCtf"`
	}
	vars := map[string]any{"first": first, "offset": offset}
	err := c.execute(ctx, getPastCtfsQuery, vars, &out)
	return out.PastCtf.Nodes, err
}

// ActiveCtfs returns the CTFs whose [start, end) window contains now.
func (c *Client) ActiveCtfs(ctx context.Context, now time.Time) ([]CTF, error) {
	incoming, err := c.ListIncomingCtfs(ctx)
	if err != nil {
		return nil, err
	}
	var active []CTF
	for _, ctf := range incoming {
		if ctf.Active(now) {
			active = append(active, ctf)
		}
	}
	return active, nil
}

// FullCtf returns the CTF with the given id including its task list.
func (c *Client) FullCtf(ctx context.Context, id int) (*CTF, error) {
	var out struct {
		Ctf *CTF `json:"ctf"`
	}
	if err := c.execute(ctx, getFullCtfQuery, map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	if out.Ctf == nil {
		return nil, fmt.Errorf("%w: ctf %d not found", ErrQueryRejected, id)
	}
	return out.Ctf, nil
}

// CreateCtf creates a new CTF with the given title and time window.
func (c *Client) CreateCtf(ctx context.Context, title string, start, end time.Time) (*CTF, error) {
	var out struct {
		CreateCtf struct {
			Ctf *CTF `json:"ctf"`
		} `json:"createCtf"`
	}
	vars := map[string]any{
		"title":       title,
		"startTime":   start.UTC().Format(datetimeLayout),
		"endTime":     end.UTC().Format(datetimeLayout),
		"description": "--",
		"logoUrl":     nil,
		"ctfUrl":      nil,
		"ctftimeUrl":  nil,
		"weight":      0,
	}
	if err := c.execute(ctx, createCtfQuery, vars, &out); err != nil {
		return nil, err
	}
	return out.CreateCtf.Ctf, nil
}

// ImportCtf imports the CTF with the given CTFTime id unless an event with
// that id is already present; alreadyPresent reports which case happened.
func (c *Client) ImportCtf(ctx context.Context, ctftimeID int) (ctf *CTF, alreadyPresent bool, err error) {
	existing, err := c.ListCtfs(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range existing {
		if id, ok := existing[i].CtftimeID(); ok && id == ctftimeID {
			return &existing[i], true, nil
		}
	}

	var out struct {
		ImportCtf struct {
			Ctf *CTF `json:"ctf"`
		} `json:"importCtf"`
	}
	if err := c.execute(ctx, importCtfQuery, map[string]any{"id": ctftimeID}, &out); err != nil {
		return nil, false, err
	}
	return out.ImportCtf.Ctf, false, nil
}

// CreateTask creates a task under the given CTF, reusing an existing task
// with the same title and category instead of duplicating it. The server
// occasionally answers a successful create with a null task; in that case
// the task list is refetched and matched.
func (c *Client) CreateTask(ctx context.Context, ctfID int, title, category, description, flag string) (*Task, error) {
	ctf, err := c.FullCtf(ctx, ctfID)
	if err != nil {
		return nil, err
	}
	if t, ok := findTask(ctf, title, category); ok {
		return t, nil
	}

	var out struct {
		CreateTask struct {
			Task *Task `json:"task"`
		} `json:"createTask"`
	}
	vars := map[string]any{
		"ctfId":       ctfID,
		"title":       title,
		"category":    category,
		"description": description,
		"flag":        flag,
	}
	if err := c.execute(ctx, createTaskQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.CreateTask.Task != nil {
		return out.CreateTask.Task, nil
	}

	ctf, err = c.FullCtf(ctx, ctfID)
	if err != nil {
		return nil, err
	}
	if t, ok := findTask(ctf, title, category); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: task %q not present after create", ErrQueryRejected, title)
}

func findTask(ctf *CTF, title, category string) (*Task, bool) {
	for i := range ctf.Tasks.Nodes {
		t := &ctf.Tasks.Nodes[i]
		if t.Title == title && t.Category == category {
			return t, true
		}
	}
	return nil, false
}

// UpdateTask patches title, category, description and flag of a task.
// An empty flag clears it.
func (c *Client) UpdateTask(ctx context.Context, id int, title, category, description, flag string) (*Task, error) {
	var out struct {
		UpdateTask struct {
			Task *Task `json:"task"`
		} `json:"updateTask"`
	}
	vars := map[string]any{
		"id":          id,
		"title":       title,
		"category":    category,
		"description": description,
		"flag":        flag,
	}
	if err := c.execute(ctx, updateTaskQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.UpdateTask.Task == nil {
		return nil, fmt.Errorf("%w: task %d not found", ErrQueryRejected, id)
	}
	return out.UpdateTask.Task, nil
}

// DeleteTask removes a task from its CTF.
func (c *Client) DeleteTask(ctx context.Context, id int) error {
	return c.execute(ctx, deleteTaskQuery, map[string]any{"id": id}, nil)
}

// StartWorkingOn marks the task as worked on by this account. An
// "already working" rejection is swallowed as a no-op.
func (c *Client) StartWorkingOn(ctx context.Context, taskID int) error {
	err := c.execute(ctx, startWorkingOnQuery, map[string]any{"taskId": taskID}, nil)
	if errors.Is(err, ErrQueryRejected) {
		return nil
	}
	return err
}

// StopWorkingOn clears this account's work marker on the task. A rejection
// is swallowed like in StartWorkingOn.
func (c *Client) StopWorkingOn(ctx context.Context, taskID int) error {
	err := c.execute(ctx, stopWorkingOnQuery, map[string]any{"taskId": taskID}, nil)
	if errors.Is(err, ErrQueryRejected) {
		return nil
	}
	return err
}

// AssignUserToTask adds the user as an assignee of the task.
func (c *Client) AssignUserToTask(ctx context.Context, taskID, userID int) error {
	vars := map[string]any{"taskId": taskID, "userId": userID}
	return c.execute(ctx, assignUserQuery, vars, nil)
}

// UnassignUserFromTask removes the user from the task's assignees.
func (c *Client) UnassignUserFromTask(ctx context.Context, taskID, userID int) error {
	vars := map[string]any{"taskId": taskID, "userId": userID}
	return c.execute(ctx, unassignUserQuery, vars, nil)
}

// CreateInvitationToken creates an invitation link token for the role.
func (c *Client) CreateInvitationToken(ctx context.Context, role string) (string, error) {
	var out struct {
		CreateInvitationLink struct {
			InvitationLinkResponse struct {
				Token string `json:"token"`
			} `json:"invitationLinkResponse"`
		} `json:"createInvitationLink"`
	}
	if err := c.execute(ctx, createInvitationQuery, map[string]any{"role": role}, &out); err != nil {
		return "", err
	}
	return out.CreateInvitationLink.InvitationLinkResponse.Token, nil
}

// ListUsers returns every account on the instance.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out struct {
		Users nodes[User] `json:"users"`
	}
	err := c.execute(ctx, getUsersQuery, nil, &out)
	return out.Users.Nodes, err
}

// NewToken returns a fresh short-lived token for the current account.
func (c *Client) NewToken(ctx context.Context) (string, error) {
	var out struct {
		NewToken string `json:"newToken"`
	}
	err := c.execute(ctx, newTokenQuery, nil, &out)
	return out.NewToken, err
}

// CreateGuestAccount provisions a member account via an invitation link,
// registering it under login with the given password, and returns the new
// profile id. The registration runs on a separate unauthenticated client so
// the admin session's token is untouched.
func (c *Client) CreateGuestAccount(ctx context.Context, login, password string) (int, error) {
	token, err := c.CreateInvitationToken(ctx, RoleMember)
	if err != nil {
		return 0, err
	}

	guest := NewClient(c.baseURL)
	if err := guest.RegisterWithToken(ctx, login, password, token); err != nil {
		return 0, err
	}
	profile, err := guest.Me(ctx)
	if err != nil {
		return 0, err
	}
	return profile.ID, nil
}
