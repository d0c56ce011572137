//go:build no_automation

package main

import (
	"log/slog"

	"mesh-ctl-client/internal/node"
	"mesh-ctl-client/internal/store"
	"mesh-ctl-client/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *node.EventBus, _ *node.Runtime, _ store.Store, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
