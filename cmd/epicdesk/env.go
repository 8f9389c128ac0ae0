package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"epicdesk/internal/config"
	"epicdesk/internal/history"
	"epicdesk/internal/learnings"
)

// runtimeEnv bundles the long-lived resources shared by both serving
// modes: configuration, the message log, and the learnings index.
type runtimeEnv struct {
	Config    *config.Manager
	History   *history.Store
	Learnings *learnings.Index
}

func prepareRuntimeEnv(ctx context.Context) (*runtimeEnv, error) {
	cfgManager, err := config.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	dataDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	appDir := filepath.Join(dataDir, "epicdesk")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create app dir: %w", err)
	}

	store, err := history.Open(ctx, filepath.Join(appDir, "history.db"))
	if err != nil {
		return nil, err
	}

	index, err := learnings.NewIndex()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create learnings index: %w", err)
	}

	return &runtimeEnv{
		Config:    cfgManager,
		History:   store,
		Learnings: index,
	}, nil
}

func (e *runtimeEnv) Close() {
	if e.Learnings != nil {
		if err := e.Learnings.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close learnings index: %v\n", err)
		}
	}
	if e.History != nil {
		if err := e.History.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close history store: %v\n", err)
		}
	}
}
