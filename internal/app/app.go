// Package app initializes and runs the organizers bot: it wires the chat
// session, the remote notes session, the transcript pipeline and the
// command endpoint, and handles graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/polyctf/orgbot/internal/archive"
	"github.com/polyctf/orgbot/internal/assets"
	"github.com/polyctf/orgbot/internal/bot"
	"github.com/polyctf/orgbot/internal/chat"
	"github.com/polyctf/orgbot/internal/config"
	"github.com/polyctf/orgbot/internal/ctfnote"
	"github.com/polyctf/orgbot/internal/logging"
	"github.com/polyctf/orgbot/internal/resolve"
	"github.com/polyctf/orgbot/internal/tasksync"
	"github.com/polyctf/orgbot/internal/transcript"
)

type App struct {
	config *config.Config
	logger logging.Logger
	server *bot.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	if cfg.NotesPassword == "" {
		password, err := promptPassword("CTFNote admin password: ")
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		cfg.NotesPassword = password
	}

	chatSession := chat.NewRESTSession(cfg.ChatAPIBaseURL, cfg.ChatBotToken)
	notes := ctfnote.NewSession(logger, cfg.NotesURL, cfg.NotesLogin, cfg.NotesPassword)

	store, err := assets.Dial(context.Background(), logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	resolver := resolve.New(logger, resolve.SessionClients(notes), chatSession)
	engine := tasksync.New(logger, resolver, tasksync.SessionClients(notes), chatSession,
		cfg.SolvedPrefix, cfg.GuestPasswordPrefix)

	archiveClient := archive.New(logger, cfg.ArchiveURL, cfg.ArchiveSecret, cfg.ArchiveTimeout)
	exporter := transcript.New(logger, chatSession, store, archiveClient)

	dispatcher := bot.NewDispatcher(logger, cfg, chatSession, engine, exporter, notes)
	server := bot.NewServer(logger, cfg.CommandAddr, cfg.ArchiveSecret, dispatcher, exporter)

	return &App{config: cfg, logger: logger, server: server}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()
}
