package cmd

import (
	"fmt"
	"net"

	"devgate/api"
	"devgate/config"
	"devgate/core"
	"devgate/database"
	"devgate/logger"
	"devgate/models"
)

// gateway holds the pieces shared by the dev server and the forward proxy.
type gateway struct {
	dev      *core.DevProxy
	recorder *core.Recorder
	server   *core.DevServer
}

// buildGateway wires the rule table, recorder, admin API and dev server from cfg.
// Recording needs both record and an open database.
func buildGateway(cfg config.Configuration, record bool) (*gateway, error) {
	rules, err := config.RuleMap(cfg.Proxy.Rules)
	if err != nil {
		return nil, err
	}
	table, err := core.NewRuleTable(rules)
	if err != nil {
		return nil, err
	}

	var recorder *core.Recorder
	if record && database.DB != nil {
		recorder = core.NewRecorder(database.Store{}, core.RecorderOptions{MaxBodyBytes: cfg.Proxy.MaxBodyBytes})
		exclusions, err := database.GetRecordExclusionRules()
		if err != nil {
			logger.Error("Loading record exclusion rules: %v", err)
		} else {
			recorder.SetExclusions(exclusions)
		}
	} else {
		logger.Info("Traffic recording is off.")
	}

	dev := core.NewDevProxy(table, recorder)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	opts := core.ServerOptions{
		Addr:            addr,
		StaticDir:       cfg.Server.StaticDir,
		Index:           cfg.Server.Index,
		AdminPrefix:     cfg.Server.AdminPrefix,
		Plugins:         cfg.Plugins,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Admin.Enabled {
		var onExclusions func([]models.RecordExclusionRule)
		if recorder != nil {
			onExclusions = recorder.SetExclusions
		}
		opts.Admin = api.NewRouter(api.Options{
			Rules:               dev,
			OnExclusionsChanged: onExclusions,
			RateLimit:           cfg.Admin.RateLimit,
			Host:                addr,
		})
	}

	server, err := core.NewDevServer(dev, opts)
	if err != nil {
		recorder.Close()
		return nil, fmt.Errorf("building dev server: %w", err)
	}
	return &gateway{dev: dev, recorder: recorder, server: server}, nil
}

// watchRules reloads the rule table whenever the config file changes.
func (g *gateway) watchRules() {
	watching := config.Watch(func(cfg config.Configuration, err error) {
		if err != nil {
			core.RecordRuleReload(false, 0)
			return
		}
		rules, err := config.RuleMap(cfg.Proxy.Rules)
		if err != nil {
			core.RecordRuleReload(false, 0)
			logger.Error("Config reload rejected, keeping %d active rule(s): %v", g.dev.Table().Len(), err)
			return
		}
		g.dev.Reload(rules)
	})
	if !watching {
		logger.Info("No config file in use, rule hot reload disabled.")
	}
}

func (g *gateway) Close() {
	g.recorder.Close()
}
