// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/sessiond/internal/api"
	"github.com/wingedpig/sessiond/internal/claudecli"
	"github.com/wingedpig/sessiond/internal/config"
	"github.com/wingedpig/sessiond/internal/events"
	"github.com/wingedpig/sessiond/internal/gateway"
	"github.com/wingedpig/sessiond/internal/index"
	"github.com/wingedpig/sessiond/internal/query"
	"github.com/wingedpig/sessiond/internal/store"
	"github.com/wingedpig/sessiond/internal/watcher"
)

// App is the main application container.
type App struct {
	config *config.Config

	store          *store.Store
	index          *index.Index
	eventBus       *events.Bus
	engine         *query.Engine
	gateway        *gateway.Gateway
	storageWatcher *watcher.StorageWatcher
	apiServer      *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath  string // empty means run on built-in defaults
	Host        string // overrides config
	Port        int    // overrides config
	StorageRoot string // overrides config
}

// New loads configuration and creates an App instance.
func New(opts Options) (*App, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.NewLoader().LoadWithDefaults(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.StorageRoot != "" {
		cfg.Storage.Root = opts.StorageRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &App{
		config: cfg,
		done:   make(chan struct{}),
	}, nil
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	st, err := store.New(store.Options{
		Root:  cfg.Storage.Root,
		Fsync: cfg.Storage.FsyncEnabled(),
	})
	if err != nil {
		return err
	}
	app.store = st
	log.Printf("app: storage root %s", st.Root())

	ix, err := index.Open(cfg.Index.Path, st)
	if err != nil {
		return err
	}
	app.index = ix
	if err := ix.Rebuild(); err != nil {
		log.Printf("app: initial index build: %v", err)
	}

	app.eventBus = events.NewBus(events.BusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.Duration(cfg.Events.History.MaxAge, time.Hour),
	})

	// Every store mutation refreshes the index and lands on the bus. The
	// store change ops share the bus event names.
	st.SetOnChange(func(op store.ChangeOp, meta store.SessionMeta) {
		ix.Apply(op, meta)
		app.eventBus.Publish(context.Background(), events.Event{
			Type:    string(op),
			Project: meta.Project,
			Session: meta.ID,
		})
	})

	app.engine = query.New(st, query.Budget{
		MaxSteps: cfg.Query.MaxSteps,
		Timeout:  config.Duration(cfg.Query.Timeout, 5*time.Second),
	})

	runner := claudecli.NewRunner(claudecli.Config{
		Binary:         cfg.Chat.Binary,
		ExtraArgs:      cfg.Chat.Args,
		SystemPrompt:   cfg.Chat.SystemPrompt,
		Timeout:        config.Duration(cfg.Chat.Timeout, 5*time.Minute),
		MaxOutputBytes: cfg.Chat.MaxOutputBytes,
		GracePeriod:    config.Duration(cfg.Chat.GracePeriod, 5*time.Second),
		UsePTY:         cfg.Chat.UsePTY,
	})
	app.gateway = gateway.New(gateway.Options{
		Store:        st,
		Runner:       gateway.NewCLIRunner(runner),
		DefaultModel: cfg.Chat.Model,
		Publish: func(topic string, payload any) {
			ev := events.Event{Type: topic}
			if m, ok := payload.(map[string]string); ok {
				ev.Project = m["project"]
				ev.Session = m["session"]
			}
			app.eventBus.Publish(context.Background(), ev)
		},
	})

	if cfg.Watch.WatchEnabled() {
		w, err := watcher.New(st.Root(), app.eventBus, ix,
			config.Duration(cfg.Watch.Debounce, 100*time.Millisecond))
		if err != nil {
			log.Printf("app: storage watcher disabled: %v", err)
		} else {
			app.storageWatcher = w
		}
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		TLSCert:      cfg.Server.TLSCert,
		TLSKey:       cfg.Server.TLSKey,
		TLSTailscale: cfg.Server.TLSTailscale,
	}, api.Dependencies{
		Store:    st,
		Index:    ix,
		Engine:   app.engine,
		Gateway:  app.gateway,
		EventBus: app.eventBus,
	})

	return nil
}

// Run initializes the app and serves until a signal or context cancel.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// ErrServerClosed is the normal shutdown path.
		if err := app.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Printf("app: received signal %v, shutting down", sig)
		case <-ctx.Done():
			log.Printf("app: context cancelled, shutting down")
		case <-app.done:
			log.Printf("app: shutdown requested")
		}
		return app.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops components in dependency order: stop accepting requests,
// stop watching, close the bus, close the index.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("app: shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("app: api server shutdown: %v", err)
		}
	}
	if app.storageWatcher != nil {
		app.storageWatcher.Close()
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.index != nil {
		app.index.Close()
	}

	log.Println("app: shutdown complete")
	return nil
}

// Stop requests a shutdown from another goroutine.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
