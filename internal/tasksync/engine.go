// Package tasksync keeps chat channels and remote CTFNote tasks consistent:
// creating and linking tasks, recording flags, repairing broken links, and
// managing the challenge lead assignment.
package tasksync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/polyctf/orgbot/internal/chat"
	"github.com/polyctf/orgbot/internal/ctfnote"
	"github.com/polyctf/orgbot/internal/link"
	"github.com/polyctf/orgbot/internal/logging"
	"github.com/polyctf/orgbot/internal/resolve"
)

// ErrTaskNotFound is the reportable "no task bound to this channel"
// outcome. It is a normal result of commands in unlinked channels, not a
// failure of the engine.
var ErrTaskNotFound = errors.New("no task linked to this channel")

// Remote is the slice of the CTFNote client the engine needs.
type Remote interface {
	BaseURL() string
	CreateTask(ctx context.Context, ctfID int, title, category, description, flag string) (*ctfnote.Task, error)
	UpdateTask(ctx context.Context, id int, title, category, description, flag string) (*ctfnote.Task, error)
	ListUsers(ctx context.Context) ([]ctfnote.User, error)
	CreateGuestAccount(ctx context.Context, login, password string) (int, error)
	AssignUserToTask(ctx context.Context, taskID, userID int) error
	UnassignUserFromTask(ctx context.Context, taskID, userID int) error
}

// ClientFunc yields an authenticated remote handle.
type ClientFunc func(ctx context.Context) (Remote, error)

// SessionClients adapts a ctfnote.Session to a ClientFunc.
func SessionClients(s *ctfnote.Session) ClientFunc {
	return func(ctx context.Context) (Remote, error) {
		return s.Client(ctx)
	}
}

// Chat is the slice of the platform session the engine needs.
type Chat interface {
	SendMessage(ctx context.Context, channelID, content string) (chat.Message, error)
	PinMessage(ctx context.Context, channelID, messageID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	PinnedMessages(ctx context.Context, channelID string) ([]chat.Message, error)
	Channel(ctx context.Context, channelID string) (chat.Channel, error)
	RenameChannel(ctx context.Context, channelID, name string) error
}

// Engine implements the channel/task synchronization operations.
type Engine struct {
	log          logging.Logger
	resolver     *resolve.Resolver
	clients      ClientFunc
	chat         Chat
	solvedPrefix string
	guestPrefix  string
}

func New(log logging.Logger, resolver *resolve.Resolver, clients ClientFunc, chatSession Chat, solvedPrefix, guestPrefix string) *Engine {
	return &Engine{
		log:          log,
		resolver:     resolver,
		clients:      clients,
		chat:         chatSession,
		solvedPrefix: solvedPrefix,
		guestPrefix:  guestPrefix,
	}
}

// CreateAndLinkTask resolves the channel's CTF, creates (or reuses) the
// remote task with the given title and category, and posts + pins the link
// message carrying the embedded link record. The solved prefix is stripped
// from the title first so a renamed channel does not spawn a duplicate.
func (e *Engine) CreateAndLinkTask(ctx context.Context, channel chat.Channel, title, category string, overrideID *int) (*ctfnote.Task, error) {
	ctf, err := e.resolver.Resolve(ctx, channel.ID, overrideID)
	if err != nil {
		return nil, err
	}
	client, err := e.clients(ctx)
	if err != nil {
		return nil, err
	}

	title = strings.TrimPrefix(title, e.solvedPrefix)
	task, err := client.CreateTask(ctx, ctf.ID, title, category, "", "")
	if err != nil {
		return nil, err
	}

	// Angle brackets suppress the platform's link previews.
	base := client.BaseURL()
	content := fmt.Sprintf("ctfnote url: <%s/#/ctf/%d-%s/task/%d-%s>", base, ctf.ID, ctf.Title, task.ID, task.Title)
	content += fmt.Sprintf("\nhackmd (in case the other is broken): <%s%s>", base, task.PadURL)
	content += link.Encode(link.ChannelLink{CtfID: ctf.ID, TaskID: &task.ID})

	msg, err := e.chat.SendMessage(ctx, channel.ID, content)
	if err != nil {
		return nil, fmt.Errorf("posting link message: %w", err)
	}
	if err := e.chat.PinMessage(ctx, channel.ID, msg.ID); err != nil {
		return nil, fmt.Errorf("pinning link message: %w", err)
	}

	e.log.Info(ctx, "task linked", "ctf_id", ctf.ID, "task_id", task.ID, "channel", channel.Name)
	return task, nil
}

// UpdateFlag sets (or, with an empty string, clears) the remote flag of the
// task bound to the channel. The channel rename on solve is not done here;
// MarkSolved owns that.
func (e *Engine) UpdateFlag(ctx context.Context, channel chat.Channel, flag string) (*ctfnote.Task, error) {
	ctf, err := e.resolver.Resolve(ctx, channel.ID, nil)
	if err != nil {
		return nil, err
	}
	task, err := e.channelTask(ctx, ctf, channel)
	if err != nil {
		return nil, err
	}

	client, err := e.clients(ctx)
	if err != nil {
		return nil, err
	}
	updated, err := client.UpdateTask(ctx, task.ID, task.Title, task.Category, task.Description, flag)
	if err != nil {
		return nil, err
	}
	e.log.Info(ctx, "flag updated", "task_id", task.ID, "cleared", flag == "")
	return updated, nil
}

// MarkSolved renames the channel with the solved prefix (exactly once: an
// already prefixed channel is left alone), pins a flag announcement when a
// flag was provided, and forwards the flag to the remote task if one is
// linked. A missing task is reported via ErrTaskNotFound after the chat
// side effects have been applied.
func (e *Engine) MarkSolved(ctx context.Context, channel chat.Channel, flag string) error {
	if !strings.HasPrefix(channel.Name, e.solvedPrefix) {
		if err := e.chat.RenameChannel(ctx, channel.ID, e.solvedPrefix+channel.Name); err != nil {
			return fmt.Errorf("renaming channel: %w", err)
		}
	}

	if flag == "" {
		return nil
	}

	msg, err := e.chat.SendMessage(ctx, channel.ID, fmt.Sprintf("The flag: `%s`", flag))
	if err != nil {
		return fmt.Errorf("posting flag announcement: %w", err)
	}
	if err := e.chat.PinMessage(ctx, channel.ID, msg.ID); err != nil {
		return fmt.Errorf("pinning flag announcement: %w", err)
	}

	_, err = e.UpdateFlag(ctx, channel, flag)
	return err
}

// FixupChannelLink repairs a channel created before linking existed or
// bound to the wrong CTF: the old link message is deleted (best effort)
// and a fresh task link is created from the channel's current name and
// category. The link record is replaced wholesale, never patched.
func (e *Engine) FixupChannelLink(ctx context.Context, channel chat.Channel, overrideID *int) (*ctfnote.Task, error) {
	pinned, err := e.chat.PinnedMessages(ctx, channel.ID)
	if err != nil {
		e.log.Warn(ctx, "reading pins for fixup failed", "channel", channel.Name, "err", err)
	}
	for _, msg := range pinned {
		if strings.Contains(msg.Content, link.DBMarker) && strings.Contains(msg.Content, link.URLMarker) {
			if err := e.chat.DeleteMessage(ctx, channel.ID, msg.ID); err != nil {
				e.log.Warn(ctx, "deleting stale link message failed", "channel", channel.Name, "err", err)
			}
			break
		}
	}

	category := ""
	if channel.ParentID != "" {
		parent, err := e.chat.Channel(ctx, channel.ParentID)
		if err != nil {
			return nil, fmt.Errorf("reading channel category: %w", err)
		}
		category = parent.Name
	}

	title := strings.TrimPrefix(channel.Name, e.solvedPrefix)
	return e.CreateAndLinkTask(ctx, channel, title, category, overrideID)
}

// AssignLead makes user the sole assignee of the channel's task,
// provisioning a guest account when the user has none. Every existing
// assignee is unassigned before the new assignment is issued, so there is
// no window with two leads. The generated password is returned when an
// account was created, otherwise "".
func (e *Engine) AssignLead(ctx context.Context, channel chat.Channel, user chat.User) (string, error) {
	ctf, err := e.resolver.Resolve(ctx, channel.ID, nil)
	if err != nil {
		return "", err
	}
	task, err := e.channelTask(ctx, ctf, channel)
	if err != nil {
		return "", err
	}

	client, err := e.clients(ctx)
	if err != nil {
		return "", err
	}

	login := user.Login()
	userID, password, err := e.ensureAccount(ctx, client, login, "")
	if err != nil {
		return "", err
	}

	for _, assignee := range task.Assignees() {
		if err := client.UnassignUserFromTask(ctx, task.ID, assignee.ProfileID); err != nil {
			return "", fmt.Errorf("unassigning %d: %w", assignee.ProfileID, err)
		}
	}
	if err := client.AssignUserToTask(ctx, task.ID, userID); err != nil {
		return "", fmt.Errorf("assigning %d: %w", userID, err)
	}

	e.log.Info(ctx, "lead assigned", "task_id", task.ID, "login", login)
	return password, nil
}

// DescribeLead returns the first assignee of the channel's task.
func (e *Engine) DescribeLead(ctx context.Context, channel chat.Channel) (*ctfnote.Profile, error) {
	ctf, err := e.resolver.Resolve(ctx, channel.ID, nil)
	if err != nil {
		return nil, err
	}
	task, err := e.channelTask(ctx, ctf, channel)
	if err != nil {
		return nil, err
	}
	assignees := task.Assignees()
	if len(assignees) == 0 {
		return nil, ErrTaskNotFound
	}
	return &assignees[0].Profile, nil
}

// RegisterGuest creates (or reuses) a guest account for the given login and
// returns the password in effect ("" when the account already existed).
// An empty preferred password means one is generated.
func (e *Engine) RegisterGuest(ctx context.Context, login, preferred string) (string, error) {
	client, err := e.clients(ctx)
	if err != nil {
		return "", err
	}
	_, password, err := e.ensureAccount(ctx, client, login, preferred)
	return password, err
}

// ensureAccount returns the remote user id for login, creating a guest
// account when none exists. The account password is preferred, or
// generated when preferred is empty.
func (e *Engine) ensureAccount(ctx context.Context, client Remote, login, preferred string) (int, string, error) {
	users, err := client.ListUsers(ctx)
	if err != nil {
		return 0, "", err
	}
	for _, u := range users {
		if strings.EqualFold(u.Login, login) {
			return u.ID, "", nil
		}
	}

	password := preferred
	if password == "" {
		password = e.guestPrefix + uuid.NewString()[:8]
	}
	id, err := client.CreateGuestAccount(ctx, login, password)
	if err != nil {
		return 0, "", fmt.Errorf("creating guest account for %s: %w", login, err)
	}
	e.log.Info(ctx, "guest account created", "login", login)
	return id, password, nil
}

// channelTask resolves the channel's task: the pinned link record wins,
// falling back to title lookup only when no usable link exists.
func (e *Engine) channelTask(ctx context.Context, ctf *ctfnote.CTF, channel chat.Channel) (*ctfnote.Task, error) {
	if l, ok := e.resolver.Link(ctx, channel.ID); ok && l.TaskID != nil {
		if task, ok := ctf.TaskByID(*l.TaskID); ok {
			return task, nil
		}
	}
	if task, ok := ctf.TaskByTitle(channel.Name, e.solvedPrefix); ok {
		return task, nil
	}
	return nil, ErrTaskNotFound
}
