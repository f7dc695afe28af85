package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/llm"
	"github.com/vikashloomba/mcphub-go/pkg/logging"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcphub-go/pkg/registry"
	"github.com/vikashloomba/mcphub-go/pkg/settings"
	"github.com/vikashloomba/mcphub-go/pkg/toolrouter"
)

type app struct {
	v        *viper.Viper
	settings *settings.Settings
	logger   *slog.Logger
	hub      *mcpmgr.Hub
	router   *toolrouter.Router
}

func (a *app) init(configFile string) error {
	s, err := settings.Load(a.v, configFile)
	if err != nil {
		return err
	}
	a.settings = s
	a.logger = logging.New(os.Stderr, s.Log.Level, s.Log.Format)
	slog.SetDefault(a.logger)

	opts := s.PoolOptions(a.logger)
	opts.ClientName = "mcphub"
	opts.ClientVersion = version
	a.hub = mcpmgr.NewHub(opts)
	a.router = toolrouter.New(a.hub, a.logger)
	return nil
}

// startServers loads the registry file and starts every server in it.
func (a *app) startServers(ctx context.Context) ([]mcpmgr.ServerStatus, error) {
	descs, err := registry.LoadFile(a.settings.Servers.Config)
	if err != nil {
		return nil, err
	}
	return a.hub.Load(ctx, descs), nil
}

func (a *app) models() (llm.Catalog, error) {
	return llm.LoadModels(a.settings.Models.Config)
}

func (a *app) sessions() *conversation.Manager {
	return conversation.NewManager(a.router, a.settings.SessionOptions(a.logger))
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.settings.Pool.HandshakeTimeout)
	defer cancel()
	if err := a.hub.Shutdown(ctx); err != nil {
		a.logger.Warn("shutting down servers", slog.Any("error", err))
	}
}

func (a *app) resolveModel(cat llm.Catalog, provider, model string) (conversation.Model, string, error) {
	if provider == "" {
		provider = a.settings.LLM.Provider
	}
	if model == "" {
		model = a.settings.LLM.Model
	}
	m, key, err := cat.Model(provider, model)
	if err != nil {
		return nil, "", fmt.Errorf("select model: %w", err)
	}
	return m, key, nil
}
