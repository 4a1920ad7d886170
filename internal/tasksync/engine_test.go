package tasksync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/polyctf/orgbot/internal/chat"
	"github.com/polyctf/orgbot/internal/ctfnote"
	"github.com/polyctf/orgbot/internal/link"
	"github.com/polyctf/orgbot/internal/logging"
	"github.com/polyctf/orgbot/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	ctf   *ctfnote.CTF
	users []ctfnote.User

	nextTaskID int
	created    []ctfnote.Task
	updated    []ctfnote.Task
	guests     []string

	// ordered log of assignment operations, e.g. "unassign 3", "assign 9"
	assignOps []string
}

func (f *fakeRemote) BaseURL() string { return "http://notes.example" }

func (f *fakeRemote) FullCtf(context.Context, int) (*ctfnote.CTF, error) {
	return f.ctf, nil
}

func (f *fakeRemote) ActiveCtfs(context.Context, time.Time) ([]ctfnote.CTF, error) {
	return []ctfnote.CTF{{ID: f.ctf.ID}}, nil
}

func (f *fakeRemote) CreateTask(_ context.Context, ctfID int, title, category, description, flag string) (*ctfnote.Task, error) {
	for i := range f.ctf.Tasks.Nodes {
		t := &f.ctf.Tasks.Nodes[i]
		if t.Title == title && t.Category == category {
			return t, nil
		}
	}
	f.nextTaskID++
	task := ctfnote.Task{ID: f.nextTaskID, CtfID: ctfID, Title: title, Category: category, Description: description, Flag: flag}
	f.ctf.Tasks.Nodes = append(f.ctf.Tasks.Nodes, task)
	f.created = append(f.created, task)
	return &f.ctf.Tasks.Nodes[len(f.ctf.Tasks.Nodes)-1], nil
}

func (f *fakeRemote) UpdateTask(_ context.Context, id int, title, category, description, flag string) (*ctfnote.Task, error) {
	for i := range f.ctf.Tasks.Nodes {
		t := &f.ctf.Tasks.Nodes[i]
		if t.ID == id {
			t.Title, t.Category, t.Description, t.Flag = title, category, description, flag
			f.updated = append(f.updated, *t)
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: task %d", ctfnote.ErrQueryRejected, id)
}

func (f *fakeRemote) ListUsers(context.Context) ([]ctfnote.User, error) {
	return f.users, nil
}

func (f *fakeRemote) CreateGuestAccount(_ context.Context, login, password string) (int, error) {
	f.guests = append(f.guests, login)
	id := 1000 + len(f.guests)
	f.users = append(f.users, ctfnote.User{ID: id, Login: login})
	return id, nil
}

func (f *fakeRemote) AssignUserToTask(_ context.Context, taskID, userID int) error {
	f.assignOps = append(f.assignOps, fmt.Sprintf("assign %d", userID))
	return nil
}

func (f *fakeRemote) UnassignUserFromTask(_ context.Context, taskID, userID int) error {
	f.assignOps = append(f.assignOps, fmt.Sprintf("unassign %d", userID))
	return nil
}

type fakeChat struct {
	nextID   int
	channels map[string]chat.Channel
	sent     map[string][]chat.Message
	pinnedID map[string][]string
	deleted  []string
	renames  map[string]string
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		channels: map[string]chat.Channel{},
		sent:     map[string][]chat.Message{},
		pinnedID: map[string][]string{},
		renames:  map[string]string{},
	}
}

func (f *fakeChat) SendMessage(_ context.Context, channelID, content string) (chat.Message, error) {
	f.nextID++
	msg := chat.Message{ID: fmt.Sprintf("m%d", f.nextID), ChannelID: channelID, Content: content}
	f.sent[channelID] = append(f.sent[channelID], msg)
	return msg, nil
}

func (f *fakeChat) PinMessage(_ context.Context, channelID, messageID string) error {
	f.pinnedID[channelID] = append(f.pinnedID[channelID], messageID)
	return nil
}

func (f *fakeChat) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	pins := f.pinnedID[channelID]
	for i, id := range pins {
		if id == messageID {
			f.pinnedID[channelID] = append(pins[:i], pins[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeChat) PinnedMessages(_ context.Context, channelID string) ([]chat.Message, error) {
	var out []chat.Message
	for _, id := range f.pinnedID[channelID] {
		for _, msg := range f.sent[channelID] {
			if msg.ID == id {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func (f *fakeChat) Channel(_ context.Context, channelID string) (chat.Channel, error) {
	ch, ok := f.channels[channelID]
	if !ok {
		return chat.Channel{}, fmt.Errorf("channel %s not found", channelID)
	}
	return ch, nil
}

func (f *fakeChat) RenameChannel(_ context.Context, channelID, name string) error {
	f.renames[channelID] = name
	return nil
}

func newEngine(t *testing.T, remote *fakeRemote, chatSession *fakeChat) *Engine {
	t.Helper()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	resolver := resolve.New(log,
		func(context.Context) (resolve.Remote, error) { return remote, nil },
		chatSession)
	clients := func(context.Context) (Remote, error) { return remote, nil }
	return New(log, resolver, clients, chatSession, "✓-", "organizerssostrong")
}

func testCtf() *ctfnote.CTF {
	return &ctfnote.CTF{ID: 42, Title: "test-ctf"}
}

func TestCreateAndLinkTask_PostsPinnedLinkRecord(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	task, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)
	require.Len(t, remote.created, 1)

	pins, err := cs.PinnedMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, pins, 1, "exactly one pinned message per successful call")

	assert.Contains(t, pins[0].Content, "ctfnote url:")
	assert.Contains(t, pins[0].Content, fmt.Sprintf(`||botdb:{"ctfid":42,"chalid":%d}||`, task.ID))

	decoded, ok := link.Decode(pins)
	require.True(t, ok)
	assert.Equal(t, 42, decoded.CtfID)
	require.NotNil(t, decoded.TaskID)
	assert.Equal(t, task.ID, *decoded.TaskID)
}

func TestCreateAndLinkTask_IdempotentOnSameTitleCategory(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	first, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)
	second, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same title+category must reuse the task")
	assert.Len(t, remote.created, 1)
}

func TestCreateAndLinkTask_StripsSolvedPrefix(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "✓-rev-baby"}
	task, err := e.CreateAndLinkTask(context.Background(), ch, "✓-rev-baby", "rev", nil)
	require.NoError(t, err)
	assert.Equal(t, "rev-baby", task.Title)
}

func TestUpdateFlag_UsesPinnedLink(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	task, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	// The channel was renamed after linking; the pinned record still resolves.
	renamed := chat.Channel{ID: "c1", Name: "something-else"}
	updated, err := e.UpdateFlag(context.Background(), renamed, "FLAG{x}")
	require.NoError(t, err)
	assert.Equal(t, task.ID, updated.ID)
	assert.Equal(t, "FLAG{x}", updated.Flag)
}

func TestUpdateFlag_EmptyStringClears(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	_, err = e.UpdateFlag(context.Background(), ch, "FLAG{x}")
	require.NoError(t, err)
	updated, err := e.UpdateFlag(context.Background(), ch, "")
	require.NoError(t, err)
	assert.Equal(t, "", updated.Flag)
}

func TestUpdateFlag_NoTaskIsReportable(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "unlinked"}
	_, err := e.UpdateFlag(context.Background(), ch, "FLAG{x}")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMarkSolved_RenamesOnce(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	require.NoError(t, e.MarkSolved(context.Background(), ch, "FLAG{x}"))
	assert.Equal(t, "✓-rev-baby", cs.renames["c1"])

	// A second /solved on the already prefixed channel must not re-rename.
	delete(cs.renames, "c1")
	prefixed := chat.Channel{ID: "c1", Name: "✓-rev-baby"}
	require.NoError(t, e.MarkSolved(context.Background(), prefixed, ""))
	_, renamed := cs.renames["c1"]
	assert.False(t, renamed)
}

func TestMarkSolved_PinsFlagAnnouncement(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)
	require.NoError(t, e.MarkSolved(context.Background(), ch, "FLAG{x}"))

	pins, err := cs.PinnedMessages(context.Background(), "c1")
	require.NoError(t, err)
	var found bool
	for _, p := range pins {
		if strings.Contains(p.Content, "The flag: `FLAG{x}`") {
			found = true
		}
	}
	assert.True(t, found, "flag announcement must be pinned")

	require.Len(t, remote.updated, 1)
	assert.Equal(t, "FLAG{x}", remote.updated[0].Flag)
}

func TestFixupChannelLink_ReplacesRecordWholesale(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	cs.channels["cat1"] = chat.Channel{ID: "cat1", Name: "rev", Type: chat.TypeCategory}
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby", ParentID: "cat1"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	oldPins, _ := cs.PinnedMessages(context.Background(), "c1")
	require.Len(t, oldPins, 1)

	task, err := e.FixupChannelLink(context.Background(), ch, nil)
	require.NoError(t, err)
	require.NotNil(t, task)

	assert.Contains(t, cs.deleted, oldPins[0].ID, "old link message must be deleted")
	pins, _ := cs.PinnedMessages(context.Background(), "c1")
	require.Len(t, pins, 1, "fixup leaves exactly one link message")

	decoded, ok := link.Decode(pins)
	require.True(t, ok)
	assert.Equal(t, 42, decoded.CtfID)
}

func TestAssignLead_UnassignsAllBeforeAssigning(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	// Seed two existing assignees on the linked task.
	task := &remote.ctf.Tasks.Nodes[0]
	task.WorkOnTasks.Nodes = []ctfnote.WorkOnTask{
		{ProfileID: 3, Profile: ctfnote.Profile{ID: 3, Username: "old1"}},
		{ProfileID: 4, Profile: ctfnote.Profile{ID: 4, Username: "old2"}},
	}
	remote.users = []ctfnote.User{{ID: 9, Login: "alice#1234"}}

	password, err := e.AssignLead(context.Background(), ch, chat.User{Name: "alice", Discriminator: "1234"})
	require.NoError(t, err)
	assert.Empty(t, password, "existing account, no password generated")

	assert.Equal(t, []string{"unassign 3", "unassign 4", "assign 9"}, remote.assignOps,
		"all unassigns must complete before the assign")
}

func TestAssignLead_CreatesGuestAccountWhenMissing(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	password, err := e.AssignLead(context.Background(), ch, chat.User{Name: "bob", Discriminator: "9999"})
	require.NoError(t, err)

	assert.Equal(t, []string{"bob#9999"}, remote.guests)
	assert.True(t, strings.HasPrefix(password, "organizerssostrong"), "password carries the configured prefix")
	assert.Greater(t, len(password), len("organizerssostrong"))
}

func TestDescribeLead(t *testing.T) {
	remote := &fakeRemote{ctf: testCtf()}
	cs := newFakeChat()
	e := newEngine(t, remote, cs)

	ch := chat.Channel{ID: "c1", Name: "rev-baby"}
	_, err := e.CreateAndLinkTask(context.Background(), ch, "rev-baby", "rev", nil)
	require.NoError(t, err)

	_, err = e.DescribeLead(context.Background(), ch)
	assert.ErrorIs(t, err, ErrTaskNotFound, "no assignees yet")

	remote.ctf.Tasks.Nodes[0].WorkOnTasks.Nodes = []ctfnote.WorkOnTask{
		{ProfileID: 5, Profile: ctfnote.Profile{ID: 5, Username: "carol"}},
	}
	lead, err := e.DescribeLead(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, "carol", lead.Username)
}
