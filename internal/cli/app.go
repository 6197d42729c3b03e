// ABOUTME: Assembles the soundboard from configuration
// ABOUTME: Wires audio driver, backend, engine, profile watcher and remote server
package cli

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/Resonate-Protocol/soundboard-go/internal/backend"
	"github.com/Resonate-Protocol/soundboard-go/internal/config"
	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/Resonate-Protocol/soundboard-go/internal/metrics"
	"github.com/Resonate-Protocol/soundboard-go/internal/server"
	"github.com/Resonate-Protocol/soundboard-go/pkg/audio/output"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// App is a running soundboard: engine plus optional remote server
type App struct {
	cfg    *config.Config
	name   string
	logger *log.Logger

	metrics  *metrics.Metrics
	engine   *engine.Engine
	profiles *config.Profiles
	watcher  *config.Watcher

	server   *server.Server
	listener net.Listener
	serveErr chan error
	served   chan struct{}

	stopOnce sync.Once
}

// newDriver builds the configured output driver
func newDriver(cfg *config.Config) (output.Driver, error) {
	if cfg.Audio.Driver == "null" {
		return output.NewNull(cfg.Audio.NullDevices...), nil
	}
	return output.New(cfg.Audio.Driver)
}

// newEngine builds an engine on the configured driver without starting it.
// A nil reporter logs failures.
func newEngine(cfg *config.Config, m *metrics.Metrics, rep engine.Reporter) (*engine.Engine, error) {
	driver, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(backend.New(driver, nil), engine.Options{
		SampleRate:   cfg.Audio.SampleRate,
		TickInterval: cfg.Engine.TickInterval,
		Metrics:      m,
		Reporter:     rep,
	}), nil
}

// NewApp builds the soundboard. v is the viper instance cfg was loaded from;
// its config file, if any, is watched for profile changes.
func NewApp(cfg *config.Config, v *viper.Viper) (*App, error) {
	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   log.WithPrefix("app"),
		metrics:  m,
		profiles: config.NewProfiles(cfg.Profiles),
		serveErr: make(chan error, 1),
		served:   make(chan struct{}),
	}

	// the server is built after the engine, so the broadcast looks it up late
	reporter := engine.MultiReporter{
		engine.LogReporter{Logger: log.WithPrefix("engine")},
		engine.ReporterFunc(func(err error) {
			if a.server != nil {
				a.server.Report(err)
			}
		}),
	}
	eng, err := newEngine(cfg, m, reporter)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	a.engine = eng

	if v != nil && v.ConfigFileUsed() != "" {
		w, err := config.NewWatcher(v, a.profiles, a.checkProfiles)
		if err != nil {
			a.logger.Warn("Profile hot reload disabled", "err", err)
		} else {
			a.watcher = w
		}
	}

	a.name = cfg.Server.Name
	if a.name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		a.name = hostname + "-soundboard"
	}

	if cfg.Server.Enabled {
		a.server = server.New(server.Config{
			Host:       cfg.Server.Host,
			Port:       cfg.Server.Port,
			Name:       a.name,
			EnableMDNS: cfg.Server.MDNS,
			RateLimit:  cfg.Server.RateLimit,
			Burst:      cfg.Server.Burst,
		}, eng, a.profiles, m)
	}

	return a, nil
}

// checkProfiles warns about profile devices that are not connected
func (a *App) checkProfiles(names []string) {
	for _, name := range names {
		targets, ok := a.profiles.Get(name)
		if !ok {
			continue
		}
		if missing := a.engine.MissingDevices(targets); len(missing) > 0 {
			a.logger.Warn("Profile references missing devices", "profile", name, "devices", missing)
		}
	}
}

// Start runs the engine scheduler and, when enabled, the remote server
func (a *App) Start() error {
	a.engine.Start()
	a.checkProfiles(a.profiles.Names())

	if a.server == nil {
		return nil
	}

	addr := a.cfg.Server.Addr()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		_ = a.Stop()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	a.listener = l

	go func() {
		defer close(a.served)
		if err := a.server.Serve(l); err != nil {
			a.serveErr <- err
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or "" when disabled
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Name returns the soundboard's display name
func (a *App) Name() string {
	return a.name
}

// Engine returns the playback engine
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Server returns the remote server, or nil when disabled
func (a *App) Server() *server.Server {
	return a.server
}

// Profiles returns the live profile store
func (a *App) Profiles() *config.Profiles {
	return a.profiles
}

// Errors delivers a server failure that happened before Stop
func (a *App) Errors() <-chan error {
	return a.serveErr
}

// Stop shuts the server down, then disposes the engine
func (a *App) Stop() error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.server != nil && a.listener != nil {
			a.server.Stop()
			<-a.served
			select {
			case err := <-a.serveErr:
				errs = append(errs, err)
			default:
			}
		}
		if a.watcher != nil {
			if err := a.watcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close config watcher: %w", err))
			}
		}
		a.engine.Dispose()
		a.logger.Info("Soundboard stopped")
	})
	return errors.Join(errs...)
}
