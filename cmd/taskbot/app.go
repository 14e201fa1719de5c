package main

import (
	"fmt"

	"github.com/vinayprograms/taskbot/bus"
	"github.com/vinayprograms/taskbot/config"
	"github.com/vinayprograms/taskbot/logging"
	"github.com/vinayprograms/taskbot/state"
)

// loadConfig reads the config selected by the persistent flags and builds
// the root logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, used, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New()
	logger.SetLevel(level)
	if used != "" {
		logger.Debug("config loaded", map[string]interface{}{"path": used})
	}
	return cfg, logger, nil
}

// needsNATS reports whether any configured component talks to NATS.
func needsNATS(cfg *config.Config) bool {
	return cfg.Store.Backend == "nats" || cfg.Chat.Transport == "bus"
}

func connectNATS(cfg *config.Config) (*bus.NATSBus, error) {
	nc := bus.DefaultNATSConfig()
	nc.URL = cfg.NATS.URL
	if cfg.NATS.Name != "" {
		nc.Name = cfg.NATS.Name
	}
	nc.Token = cfg.NATS.Token
	nc.User = cfg.NATS.User
	nc.Password = cfg.NATS.Password

	b, err := bus.NewNATSBus(nc)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
	}
	return b, nil
}

// openState opens the configured backend. nb must be non-nil for the
// nats backend.
func openState(cfg *config.Config, nb *bus.NATSBus) (state.StateStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return state.NewMemoryStore(), nil
	case "file":
		return state.NewFileStore(cfg.Store.Path)
	case "sqlite":
		return state.NewSQLiteStore(cfg.Store.Path)
	case "nats":
		if nb == nil {
			return nil, fmt.Errorf("nats backend requires a nats connection")
		}
		sc := state.DefaultNATSStoreConfig()
		sc.Conn = nb.Conn()
		sc.Bucket = cfg.Store.Bucket
		return state.NewNATSStore(sc)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// offlineState opens the backend for the inspection commands, connecting
// to NATS only when the backend lives there. The returned func closes
// everything that was opened.
func offlineState(cfg *config.Config) (state.StateStore, func(), error) {
	var nb *bus.NATSBus
	if cfg.Store.Backend == "nats" {
		var err error
		if nb, err = connectNATS(cfg); err != nil {
			return nil, nil, err
		}
	}
	st, err := openState(cfg, nb)
	if err != nil {
		if nb != nil {
			nb.Close()
		}
		return nil, nil, err
	}
	return st, func() {
		st.Close()
		if nb != nil {
			nb.Close()
		}
	}, nil
}
