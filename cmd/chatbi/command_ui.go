package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatbi/internal/app"
	"chatbi/internal/client"
	"chatbi/internal/config"
	"chatbi/internal/conversation"
	"chatbi/internal/logging"
	"chatbi/internal/sessions"
	"chatbi/internal/store"
)

type UICommand struct {
	stderr     io.Writer
	loadConfig func() (config.Config, error)
	runUI      func(cfg config.Config) error
}

func NewUICommand(stderr io.Writer, loadConfig func() (config.Config, error), runUI func(cfg config.Config) error) *UICommand {
	if loadConfig == nil {
		loadConfig = config.Load
	}
	if runUI == nil {
		runUI = runUIProcess
	}
	return &UICommand{
		stderr:     stderr,
		loadConfig: loadConfig,
		runUI:      runUI,
	}
}

func (c *UICommand) Run(args []string) error {
	fs := flag.NewFlagSet("ui", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	endpoint := fs.String("endpoint", "", "agent base URL (overrides config)")
	agent := fs.String("agent", "", "agent name (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	applyAgentOverrides(&cfg, *endpoint, *agent)
	return c.runUI(cfg)
}

func runUIProcess(cfg config.Config) error {
	logger, closeLog := openUILogger(cfg)
	defer closeLog()

	historyPath := ""
	if cfg.HistoryBackend() == config.HistoryBolt {
		path, err := cfg.ResolveHistoryPath()
		if err != nil {
			return err
		}
		historyPath = path
	}
	repo, err := store.Open(cfg.HistoryBackend(), historyPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Warn("history close failed", logging.Err(err))
		}
	}()

	ctx := context.Background()
	current, err := repo.AppState().LoadCurrentThread(ctx)
	if err != nil {
		logger.Warn("current thread load failed", logging.Err(err))
		current = ""
	}
	sessionStore := sessions.New(current,
		sessions.WithJournal(repo.Sessions()),
		sessions.WithLogger(logging.Component(logger, "sessions")),
	)
	saveCurrent := func(threadID string) {
		if err := repo.AppState().SaveCurrentThread(ctx, threadID); err != nil {
			logger.Warn("current thread save failed", logging.F("thread_id", threadID), logging.Err(err))
		}
	}
	saveCurrent(sessionStore.Current())
	unsubscribe := sessionStore.Subscribe(func(change sessions.Change) {
		saveCurrent(change.Current)
	})
	defer unsubscribe()

	agent := client.New(cfg.AgentEndpoint(), cfg.AgentName(),
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		client.WithLogger(logging.Component(logger, "client")),
		client.WithStreamDebug(cfg.StreamDebugEnabled()),
	)
	probeAgent(agent, logger)

	manager, err := conversation.NewManager(conversation.ManagerConfig{
		Sessions:        sessionStore,
		Agent:           agent,
		Logger:          logging.Component(logger, "conversation"),
		ResponseTimeout: cfg.ApprovalResponseTimeout(),
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	logger.Info("ui starting",
		logging.F("agent_url", agent.AgentURL()),
		logging.F("history", repo.Backend()),
		logging.F("thread_id", sessionStore.Current()),
	)
	return app.Run(app.Config{
		Manager: manager,
		DevMode: cfg.DevMode(),
		Theme:   cfg.Theme(),
		Logger:  logging.Component(logger, "ui"),
	})
}

// openUILogger writes to the log file under the data dir. The terminal
// belongs to the UI, so a failure drops logging instead of printing.
func openUILogger(cfg config.Config) (logging.Logger, func()) {
	path, err := config.LogPath()
	if err != nil {
		return logging.Nop(), func() {}
	}
	logger, closer, err := logging.OpenFile(path, logging.ParseLevel(cfg.LogLevel()))
	if err != nil {
		return logging.Nop(), func() {}
	}
	return logger, func() { _ = closer() }
}

// probeAgent records agent reachability; the UI starts either way.
func probeAgent(agent *client.Client, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := agent.Health(ctx)
	if err != nil {
		logger.Warn("agent health probe failed", logging.F("agent_url", agent.AgentURL()), logging.Err(err))
		return
	}
	logger.Info("agent healthy", logging.F("status", resp.Status))
}
