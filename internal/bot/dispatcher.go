// Package bot binds the inbound command surface to the engines: each
// command is translated into resolver/engine/exporter calls and the
// outcome rendered back as a chat reply. Failures never escape a command;
// the outermost handler turns them into the reply text.
package bot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/polyctf/orgbot/internal/chat"
	"github.com/polyctf/orgbot/internal/config"
	"github.com/polyctf/orgbot/internal/ctfnote"
	"github.com/polyctf/orgbot/internal/logging"
	"github.com/polyctf/orgbot/internal/tasksync"
	"github.com/polyctf/orgbot/internal/transcript"
)

// Command is one inbound command invocation.
type Command struct {
	Name      string            `json:"command"`
	ChannelID string            `json:"channel_id"`
	User      string            `json:"user"`
	Args      map[string]string `json:"args"`
}

// Notes is the remote-service slice the dispatcher itself needs; everything
// task-shaped goes through the engine instead.
type Notes interface {
	ImportCtf(ctx context.Context, ctftimeID int) (ctf *ctfnote.CTF, alreadyPresent bool, err error)
}

// NotesFunc yields an authenticated Notes handle.
type NotesFunc func(ctx context.Context) (Notes, error)

// SessionNotes adapts a ctfnote.Session to a NotesFunc.
func SessionNotes(s *ctfnote.Session) NotesFunc {
	return func(ctx context.Context) (Notes, error) {
		return s.Client(ctx)
	}
}

// Dispatcher routes commands to the engines.
type Dispatcher struct {
	log      logging.Logger
	cfg      *config.Config
	chat     chat.Session
	engine   *tasksync.Engine
	exporter *transcript.Exporter
	session  *ctfnote.Session
	notes    NotesFunc
}

func NewDispatcher(log logging.Logger, cfg *config.Config, chatSession chat.Session,
	engine *tasksync.Engine, exporter *transcript.Exporter, session *ctfnote.Session) *Dispatcher {
	return &Dispatcher{
		log:      log,
		cfg:      cfg,
		chat:     chatSession,
		engine:   engine,
		exporter: exporter,
		session:  session,
		notes:    SessionNotes(session),
	}
}

// Dispatch executes cmd and returns the reply text. An unknown command and
// a failed command are both replies, never errors: the process must not
// care whether an individual command worked.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) string {
	reply, err := d.run(ctx, cmd)
	if err != nil {
		d.log.Error(ctx, "command failed", "command", cmd.Name, "channel_id", cmd.ChannelID, "err", err)
		return fmt.Sprintf("Failed: %v", err)
	}
	return reply
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Name {
	case "ping":
		return "Pong!", nil
	case "chal", "create-challenge-channel":
		return d.createChallengeChannel(ctx, cmd)
	case "solved", "mark-solved":
		return d.markSolved(ctx, cmd)
	case "flag", "update-flag":
		return d.updateFlag(ctx, cmd)
	case "fixup", "fixup-channel-link":
		return d.fixup(ctx, cmd)
	case "assign-lead":
		return d.assignLead(ctx, cmd)
	case "who-leads":
		return d.whoLeads(ctx, cmd)
	case "register-self":
		return d.registerSelf(ctx, cmd)
	case "import", "import-from-external":
		return d.importFromExternal(ctx, cmd)
	case "update-remote-auth":
		return d.updateRemoteAuth(ctx, cmd)
	case "archive", "archive-all":
		return d.archiveAll(ctx, cmd)
	case "export", "export-category":
		return d.exportCategory(ctx, cmd)
	case "nuke", "nuke-category":
		return d.nukeCategory(ctx, cmd)
	default:
		return fmt.Sprintf("Unknown command %q", cmd.Name), nil
	}
}

func (d *Dispatcher) createChallengeChannel(ctx context.Context, cmd Command) (string, error) {
	category := cmd.Args["category"]
	title := cmd.Args["challenge"]
	if title == "" || category == "" {
		return "", fmt.Errorf("chal needs category and challenge arguments")
	}
	if !d.managedCategory(category) {
		return "", fmt.Errorf("category %q is not managed", category)
	}

	channels, err := d.chat.GuildChannels(ctx, d.cfg.GuildID)
	if err != nil {
		return "", err
	}
	parent, ok := chat.FindCategory(channels, category)
	if !ok {
		return "", fmt.Errorf("category channel %q not found", category)
	}

	created, err := d.chat.CreateChannel(ctx, d.cfg.GuildID, title, parent.ID)
	if err != nil {
		return "", err
	}

	if _, err := d.engine.CreateAndLinkTask(ctx, created, title, category, d.ctfOverride(cmd)); err != nil {
		return "", fmt.Errorf("channel <#%s> created, but linking failed: %w", created.ID, err)
	}
	return fmt.Sprintf("The channel for <#%s> (%s) was created", created.ID, category), nil
}

func (d *Dispatcher) markSolved(ctx context.Context, cmd Command) (string, error) {
	channel, err := d.chat.Channel(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	if err := d.engine.MarkSolved(ctx, channel, cmd.Args["flag"]); err != nil {
		return "", err
	}
	return "done", nil
}

func (d *Dispatcher) updateFlag(ctx context.Context, cmd Command) (string, error) {
	channel, err := d.chat.Channel(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	task, err := d.engine.UpdateFlag(ctx, channel, cmd.Args["flag"])
	if err != nil {
		return "", err
	}
	if task.Flag == "" {
		return "Flag cleared", nil
	}
	return "Flag updated", nil
}

func (d *Dispatcher) fixup(ctx context.Context, cmd Command) (string, error) {
	channel, err := d.chat.Channel(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	task, err := d.engine.FixupChannelLink(ctx, channel, d.ctfOverride(cmd))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Relinked to task %d (%s)", task.ID, task.Title), nil
}

func (d *Dispatcher) assignLead(ctx context.Context, cmd Command) (string, error) {
	login := cmd.Args["user"]
	if login == "" {
		login = cmd.User
	}
	channel, err := d.chat.Channel(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	password, err := d.engine.AssignLead(ctx, channel, parseUser(login))
	if err != nil {
		return "", err
	}
	if password != "" {
		return fmt.Sprintf("%s is now the lead. A fresh account was created, password: `%s`", login, password), nil
	}
	return fmt.Sprintf("%s is now the lead.", login), nil
}

func (d *Dispatcher) whoLeads(ctx context.Context, cmd Command) (string, error) {
	channel, err := d.chat.Channel(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	lead, err := d.engine.DescribeLead(ctx, channel)
	if err != nil {
		if errors.Is(err, tasksync.ErrTaskNotFound) {
			return "No one is working on this challenge :(", nil
		}
		return "", err
	}
	return fmt.Sprintf("%s is this challenge lead. People are wondering how many ctf minutes until flag.", lead.Username), nil
}

func (d *Dispatcher) registerSelf(ctx context.Context, cmd Command) (string, error) {
	password, err := d.engine.RegisterGuest(ctx, cmd.User, cmd.Args["password"])
	if err != nil {
		return "", err
	}
	if password == "" {
		return "You already have an account.", nil
	}
	return fmt.Sprintf("Account created. Login: `%s`, password: `%s`", cmd.User, password), nil
}

func (d *Dispatcher) importFromExternal(ctx context.Context, cmd Command) (string, error) {
	raw := cmd.Args["id"]
	if raw == "" {
		raw = cmd.Args["link"]
	}
	id, err := externalID(raw)
	if err != nil {
		return "", err
	}

	notes, err := d.notes(ctx)
	if err != nil {
		return "", err
	}
	ctf, alreadyPresent, err := notes.ImportCtf(ctx, id)
	if err != nil {
		return "", err
	}
	if alreadyPresent {
		return fmt.Sprintf("%s is already imported.", ctf.Title), nil
	}
	return fmt.Sprintf("Imported %s (ctf id %d).", ctf.Title, ctf.ID), nil
}

func (d *Dispatcher) updateRemoteAuth(ctx context.Context, cmd Command) (string, error) {
	url, login, password := cmd.Args["url"], cmd.Args["login"], cmd.Args["password"]
	if url == "" || login == "" || password == "" {
		return "", fmt.Errorf("update-remote-auth needs url, login and password arguments")
	}
	if err := d.session.Reconfigure(ctx, url, login, password); err != nil {
		return "", err
	}
	return "Remote session updated.", nil
}

// archiveAll creates an Archive-<name> category and moves every channel of
// every managed category into it.
func (d *Dispatcher) archiveAll(ctx context.Context, cmd Command) (string, error) {
	name := cmd.Args["name"]
	if name == "" {
		return "", fmt.Errorf("archive needs a name argument")
	}

	channels, err := d.chat.GuildChannels(ctx, d.cfg.GuildID)
	if err != nil {
		return "", err
	}
	target, err := d.chat.CreateCategory(ctx, d.cfg.GuildID, "Archive-"+name, 999)
	if err != nil {
		return "", err
	}

	moved := 0
	for _, category := range channels {
		if category.Type != chat.TypeCategory || !d.managedCategory(category.Name) {
			continue
		}
		for _, ch := range chat.TextChannelsIn(channels, category.ID) {
			if err := d.chat.MoveChannel(ctx, ch.ID, target.ID); err != nil {
				return "", fmt.Errorf("moving %s: %w", ch.Name, err)
			}
			moved++
		}
	}
	return fmt.Sprintf("Archived %s (%d channels)", name, moved), nil
}

func (d *Dispatcher) exportCategory(ctx context.Context, cmd Command) (string, error) {
	name := cmd.Args["category"]
	if name == "" {
		return "", fmt.Errorf("export needs a category argument")
	}
	channels, err := d.chat.GuildChannels(ctx, d.cfg.GuildID)
	if err != nil {
		return "", err
	}
	category, ok := chat.FindCategory(channels, name)
	if !ok {
		return "", fmt.Errorf("category %q not found", name)
	}

	// The export outlives the command request; progress goes to the status
	// message, the result to the job list.
	bg := context.WithoutCancel(ctx)
	go func() {
		_ = d.exporter.Export(bg, category, cmd.ChannelID)
	}()
	return fmt.Sprintf("Export of %s started.", name), nil
}

// nukeCategory deletes every channel of a category, and then the category,
// once the caller has echoed back the confirmation code derived from the
// category's name and position.
func (d *Dispatcher) nukeCategory(ctx context.Context, cmd Command) (string, error) {
	name := cmd.Args["category"]
	if name == "" {
		return "", fmt.Errorf("nuke needs a category argument")
	}
	channels, err := d.chat.GuildChannels(ctx, d.cfg.GuildID)
	if err != nil {
		return "", err
	}
	category, ok := chat.FindCategory(channels, name)
	if !ok {
		return "", fmt.Errorf("category %q not found", name)
	}

	expected := NukeConfirmation(category.Name, category.Position)
	if cmd.Args["confirmation"] != expected {
		return fmt.Sprintf("This deletes every channel in %s. To proceed, repeat with confirmation code `%s`.", name, expected), nil
	}

	for _, ch := range chat.TextChannelsIn(channels, category.ID) {
		if err := d.chat.DeleteChannel(ctx, ch.ID); err != nil {
			return "", fmt.Errorf("deleting %s: %w", ch.Name, err)
		}
	}
	if err := d.chat.DeleteChannel(ctx, category.ID); err != nil {
		return "", fmt.Errorf("deleting category: %w", err)
	}
	d.log.Info(ctx, "category nuked", "category", name, "user", cmd.User)
	return fmt.Sprintf("Nuked %s.", name), nil
}

// NukeConfirmation derives the code guarding category deletion. It changes
// whenever the category is renamed or moved, so a stale code never deletes
// the wrong thing.
func NukeConfirmation(categoryName string, position int) string {
	sum := sha256.Sum256([]byte(categoryName + strconv.Itoa(position)))
	return hex.EncodeToString(sum[:])
}

func (d *Dispatcher) managedCategory(name string) bool {
	for _, c := range d.cfg.Categories {
		if c == name {
			return true
		}
	}
	return false
}

func (d *Dispatcher) ctfOverride(cmd Command) *int {
	raw := cmd.Args["ctf_id"]
	if raw == "" {
		return nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &id
}

// parseUser splits a "name#discriminator" login back into its parts.
func parseUser(login string) chat.User {
	name, discriminator, ok := strings.Cut(login, "#")
	if !ok {
		return chat.User{Name: login}
	}
	return chat.User{Name: name, Discriminator: discriminator}
}

// externalID accepts either a bare event id or an event URL ending in one.
func externalID(raw string) (int, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return 0, fmt.Errorf("import needs an id or link argument")
	}
	parts := strings.Split(raw, "/")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("no event id in %q", raw)
	}
	return id, nil
}
