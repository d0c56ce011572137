//go:build no_mqtt

package main

import (
	"log/slog"

	"mesh-ctl-client/internal/node"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *node.EventBus, _ *node.Runtime, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
