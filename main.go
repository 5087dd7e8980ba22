// consulta TUI - A terminal client for the Consulta chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/consulta-tui/internal/api"
	"github.com/jeranaias/consulta-tui/internal/archive"
	"github.com/jeranaias/consulta-tui/internal/authstate"
	"github.com/jeranaias/consulta-tui/internal/cache"
	"github.com/jeranaias/consulta-tui/internal/chat"
	"github.com/jeranaias/consulta-tui/internal/cli"
	"github.com/jeranaias/consulta-tui/internal/config"
	"github.com/jeranaias/consulta-tui/internal/logging"
	"github.com/jeranaias/consulta-tui/internal/model"
	"github.com/jeranaias/consulta-tui/internal/ui"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		plain       = flag.Bool("plain", false, "run the line-based REPL instead of the TUI")
		configPath  = flag.String("config", "", "config file path (default ~/.consulta/config.toml)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("consulta %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*plain, *configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(plain bool, configPath string) error {
	// --- configuration ---
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// First run: persist the defaults so the user has a file to edit.
	if configPath == "" {
		if path, perr := config.ConfigPath(); perr == nil {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				if serr := config.Save(cfg); serr != nil {
					fmt.Fprintln(os.Stderr, "warning: could not write default config:", serr)
				}
			}
		}
	}

	// --- logging ---
	logFile, err := cfg.LogFile()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, logFile)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("starting consulta",
		zap.String("version", Version),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.Bool("plain", plain))

	// --- backend client ---
	client, err := api.NewClient(&api.ClientConfig{
		BaseURL:   cfg.Server.BaseURL,
		Timeout:   cfg.Server.Timeout(),
		UserAgent: "consulta-tui/" + Version,
	}, logger)
	if err != nil {
		return err
	}

	// --- conversation cache ---
	var messageLimit atomic.Int64
	messageLimit.Store(int64(cfg.Chat.MessageLimit))
	msgCache := cache.New(func(ctx context.Context, conversationID int64) ([]model.Message, error) {
		return client.Messages(ctx, conversationID, int(messageLimit.Load()), 0)
	})

	// --- streaming session ---
	var opts []chat.Option
	if cfg.Chat.SendsPerMinute > 0 {
		limit := rate.Limit(float64(cfg.Chat.SendsPerMinute) / 60.0)
		opts = append(opts, chat.WithLimiter(rate.NewLimiter(limit, 1)))
	}
	session := chat.NewSession(client, opts...)

	// --- local archive ---
	var store *archive.Archive
	if cfg.Archive.Enabled {
		archivePath, err := cfg.ArchivePath()
		if err == nil {
			store, err = archive.Open(archivePath)
		}
		if err != nil {
			// The archive is a convenience; a broken local DB must not
			// block chatting.
			logger.Warn("archive unavailable", zap.Error(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	// --- auth guard ---
	guard := authstate.New(authstate.Config{
		WhoAmI: client.Me,
		Logout: client.Logout,
		Logger: logger,
	})
	guard.OnSignOut(msgCache.Clear)
	client.SetUnauthorizedHook(guard.HandleUnauthorized)

	// --- config hot reload (log level and the like need a restart; the
	// watcher keeps the chat page size current) ---
	if configPath == "" {
		if path, perr := config.ConfigPath(); perr == nil {
			watcher, werr := config.NewWatcher(path, func(next *config.Config) {
				messageLimit.Store(int64(next.Chat.MessageLimit))
			}, logger)
			if werr == nil && watcher.Watch() == nil {
				defer watcher.Close()
			}
		}
	}

	if plain {
		repl := cli.New(cli.Deps{
			Client:  client,
			Guard:   guard,
			Cache:   msgCache,
			Session: session,
			Store:   store,
			Config:  cfg,
			Logger:  logger,
		})
		return repl.Run(context.Background())
	}

	app := ui.NewApp(ui.Deps{
		Client:       client,
		Guard:        guard,
		Cache:        msgCache,
		Session:      session,
		Store:        store,
		Logger:       logger,
		Markdown:     cfg.UI.Markdown,
		SystemPrompt: cfg.Chat.SystemPrompt,
	})

	program := tea.NewProgram(app, tea.WithAltScreen())

	// The guard redirect pushes the app back to the login view no matter
	// which goroutine noticed the dead session.
	guard.SetRedirect(func() { program.Send(ui.SignedOutMsg{}) })

	_, err = program.Run()
	return err
}
