// Package transcript exports a whole challenge category (channel metadata
// plus full message history, with all referenced assets rehosted) into the
// archive bucket, then hands the category off to the archive site.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polyctf/orgbot/internal/chat"
	"github.com/polyctf/orgbot/internal/logging"
	"golang.org/x/sync/errgroup"
)

const historyPageSize = 100

// Store is the asset-store slice the exporter needs.
type Store interface {
	SaveURL(ctx context.Context, rawURL, targetPath string) (string, error)
	SaveJSON(ctx context.Context, targetPath string, v any) error
}

// Archive receives the handoff once everything is stored.
type Archive interface {
	Configured() bool
	NotifyUpdate(ctx context.Context, categoryName string) error
}

// Chat is the platform slice the exporter needs.
type Chat interface {
	SendMessage(ctx context.Context, channelID, content string) (chat.Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	ChannelRaw(ctx context.Context, channelID string) (json.RawMessage, error)
	GuildChannels(ctx context.Context, guildID string) ([]chat.Channel, error)
	HistoryPage(ctx context.Context, channelID, afterID string, limit int) ([]chat.Message, error)
}

// Job states reported by Jobs.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateFailed   = "failed"
)

// Job is one export run, kept for the lifetime of the process.
type Job struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
}

// Exporter builds and uploads category transcripts.
type Exporter struct {
	log     logging.Logger
	chat    Chat
	store   Store
	archive Archive

	mu   sync.Mutex
	jobs map[string]*Job
}

func New(log logging.Logger, chatSession Chat, store Store, archive Archive) *Exporter {
	return &Exporter{
		log:     log,
		chat:    chatSession,
		store:   store,
		archive: archive,
		jobs:    map[string]*Job{},
	}
}

// Jobs returns all export runs, newest first.
func (e *Exporter) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out
}

// Export builds the transcript for category and syncs it to the archive.
// Progress is reported by editing a single status message in
// statusChannelID. Channels are exported concurrently; the first failing
// channel cancels the rest and fails the job, so a stored transcript is
// always complete.
func (e *Exporter) Export(ctx context.Context, category chat.Channel, statusChannelID string) error {
	job := &Job{ID: uuid.NewString(), Category: category.Name, Started: time.Now(), State: StateRunning}
	e.mu.Lock()
	e.jobs[job.ID] = job
	e.mu.Unlock()

	log := e.log.With("job_id", job.ID, "category", category.Name)
	log.Info(ctx, "export started")

	err := e.run(ctx, log, category, statusChannelID)

	e.mu.Lock()
	job.Finished = time.Now()
	if err != nil {
		job.State = StateFailed
		job.Error = err.Error()
	} else {
		job.State = StateFinished
	}
	e.mu.Unlock()

	if err != nil {
		log.Error(ctx, "export failed", "err", err)
		return err
	}
	log.Info(ctx, "export finished")
	return nil
}

func (e *Exporter) run(ctx context.Context, log logging.Logger, category chat.Channel, statusChannelID string) error {
	status := newStatusLine(e.chat, statusChannelID, category.Name)
	status.update(ctx, "Building transcript")

	folder := path.Join("archive", "ctf", category.Name)

	categoryRaw, err := e.chat.ChannelRaw(ctx, category.ID)
	if err != nil {
		status.done(ctx, "Failed to build transcript!")
		return fmt.Errorf("reading category metadata: %w", err)
	}
	if err := e.store.SaveJSON(ctx, path.Join(folder, "meta.json"), categoryRaw); err != nil {
		status.done(ctx, "Failed to build transcript!")
		return err
	}

	channels, err := e.chat.GuildChannels(ctx, category.GuildID)
	if err != nil {
		status.done(ctx, "Failed to build transcript!")
		return fmt.Errorf("listing guild channels: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range chat.TextChannelsIn(channels, category.ID) {
		g.Go(func() error {
			status.update(gctx, fmt.Sprintf("Exporting %s", ch.Name))
			if err := e.exportChannel(gctx, folder, ch); err != nil {
				return fmt.Errorf("channel %s: %w", ch.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		status.done(ctx, "Failed to build transcript!")
		return err
	}

	if !e.archive.Configured() {
		status.done(ctx, fmt.Sprintf("Finished building transcript for %s", category.Name))
		return nil
	}

	status.update(ctx, fmt.Sprintf("Syncing category %s to the archive", category.Name))
	if err := e.archive.NotifyUpdate(ctx, category.Name); err != nil {
		status.done(ctx, fmt.Sprintf("Failed to sync category %s to the archive", category.Name))
		return err
	}
	status.done(ctx, fmt.Sprintf("Synced category %s to the archive", category.Name))
	return nil
}

// exportChannel stores meta.json, messages.json (asset links rewritten) and
// messages.orig.json (untouched platform JSON) for one channel.
func (e *Exporter) exportChannel(ctx context.Context, folder string, ch chat.Channel) error {
	channelFolder := path.Join(folder, ch.Name)

	raw, err := e.chat.ChannelRaw(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("reading channel metadata: %w", err)
	}
	if err := e.store.SaveJSON(ctx, path.Join(channelFolder, "meta.json"), raw); err != nil {
		return err
	}

	original := []json.RawMessage{}
	rewritten := []map[string]any{}

	afterID := ""
	for {
		page, err := e.chat.HistoryPage(ctx, ch.ID, afterID, historyPageSize)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}
		for _, msg := range page {
			changed, err := e.rewriteMessage(ctx, msg.Raw)
			if err != nil {
				return fmt.Errorf("message %s: %w", msg.ID, err)
			}
			original = append(original, msg.Raw)
			rewritten = append(rewritten, changed)
		}
		if len(page) < historyPageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if err := e.store.SaveJSON(ctx, path.Join(channelFolder, "messages.json"), rewritten); err != nil {
		return err
	}
	return e.store.SaveJSON(ctx, path.Join(channelFolder, "messages.orig.json"), original)
}

// statusLine is a single progress message edited in place.
type statusLine struct {
	chat      Chat
	channelID string
	category  string

	mu    sync.Mutex
	msgID string
}

func newStatusLine(chatSession Chat, channelID, category string) *statusLine {
	return &statusLine{chat: chatSession, channelID: channelID, category: category}
}

func (s *statusLine) update(ctx context.Context, line string) {
	s.post(ctx, fmt.Sprintf("Exporting category %s\n%s", s.category, line))
}

func (s *statusLine) done(ctx context.Context, line string) {
	s.post(ctx, line)
}

// post sends the first status and edits it afterwards. Status reporting is
// best effort: a failed edit never fails the export.
func (s *statusLine) post(ctx context.Context, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelID == "" {
		return
	}
	if s.msgID == "" {
		msg, err := s.chat.SendMessage(ctx, s.channelID, content)
		if err == nil {
			s.msgID = msg.ID
		}
		return
	}
	_ = s.chat.EditMessage(ctx, s.channelID, s.msgID, content)
}
