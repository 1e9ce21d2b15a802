package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"roomchat/internal/api"
	"roomchat/internal/chat"
	"roomchat/internal/markup"
	"roomchat/internal/tui"
)

// RunClient launches the Bubble Tea TUI for one room. Pressing retry after a
// failure rebuilds the session and the UI from scratch.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, closeLog, err := clientLogger(cfg.LogFile)
	if err != nil {
		return err
	}
	defer closeLog()

	for {
		reload, err := runClientOnce(ctx, cfg, logger)
		if err != nil || !reload {
			return err
		}
		logger.Info("reloading room", "room", cfg.Room)
	}
}

func runClientOnce(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (bool, error) {
	model := tui.NewModel(cfg.Room, cfg.Endpoint)
	program := tea.NewProgram(model, tea.WithAltScreen())

	pres := chat.Presentations{tui.NewBridge(program)}
	if cfg.Transcript != "" {
		page := markup.NewPage(cfg.Room)
		page.OnChange = func(p *markup.Page) {
			if err := p.WriteFile(cfg.Transcript); err != nil {
				logger.Warn("write transcript", "path", cfg.Transcript, "err", err)
			}
		}
		pres = append(pres, page)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		session, err := chat.Open(runCtx, chat.Config{
			Endpoint:    cfg.Endpoint,
			RoomID:      cfg.Room,
			Token:       cfg.Token,
			SendTimeout: cfg.SendTimeout,
		}, pres, chat.WithLogger(logger))
		if err != nil {
			logger.Error("open session", "err", err)
			program.Send(tui.SessionEndedMsg{Err: err})
			return
		}
		defer session.Close()
		program.Send(tui.AttachMsg{Sender: session})
		err = session.Run(runCtx)
		if errors.Is(err, context.Canceled) || errors.Is(err, chat.ErrClosed) {
			return
		}
		logger.Warn("session ended", "err", err)
		program.Send(tui.SessionEndedMsg{Err: err})
	}()
	programDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-programDone:
		}
	}()

	final, err := program.Run()
	close(programDone)
	cancel()
	<-sessionDone
	if err != nil {
		return false, fmt.Errorf("run tui: %w", err)
	}
	if m, ok := final.(*tui.Model); ok && ctx.Err() == nil {
		return m.ReloadRequested(), nil
	}
	return false, nil
}

// clientLogger keeps logs off the terminal the TUI owns.
func clientLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = f.Close() }, nil
}

// FetchRoster reads a room's members once, outside any session.
func FetchRoster(ctx context.Context, endpoint, token, room string) ([]chat.Member, error) {
	client, err := api.NewClient(endpoint, token)
	if err != nil {
		return nil, err
	}
	raw, err := client.FetchMembers(ctx, room)
	if err != nil {
		return nil, err
	}
	members, present, err := chat.ParseRoster(raw)
	if err != nil {
		return nil, err
	}
	if !present {
		return []chat.Member{}, nil
	}
	return members, nil
}
