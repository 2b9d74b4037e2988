// Package mapperapp assembles one running mapper instance — lock,
// context store, sandbox, flow engine and bridge — from a resolved
// MapperConfig, for the live daemon.
package mapperapp

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/thin-edge/tedge-mapper-core/internal/bridge"
	"github.com/thin-edge/tedge-mapper-core/internal/config"
	"github.com/thin-edge/tedge-mapper-core/internal/connector"
	"github.com/thin-edge/tedge-mapper-core/internal/contextstore"
	"github.com/thin-edge/tedge-mapper-core/internal/flow"
	"github.com/thin-edge/tedge-mapper-core/internal/lifecycle"
	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/sandbox"
	"github.com/thin-edge/tedge-mapper-core/internal/steps"
	"github.com/thin-edge/tedge-mapper-core/internal/worker"
)

// App is a fully wired mapper instance ready to Run.
type App struct {
	Name     string
	Profile  string
	Identity lifecycle.ServiceIdentity
	Dir      string
	Layout   *lifecycle.Layout
	Config   config.MapperConfig

	Store    *contextstore.Store
	Registry *steps.Registry
	Sandbox  *sandbox.Runtime
	Pool     *worker.Pool
	Log      *logging.Scoped

	lock       *lifecycle.Lock
	persister  *contextstore.Persister
	mqtt       *connector.MQTT
	manager    *flow.Manager
	loader     *flow.Loader
	forwarding *bridge.ForwardingTable
}

// Options configures New beyond the mapper's name/profile.
type Options struct {
	Name    string
	Profile string
	Config  config.MapperConfig
	Log     *logging.Scoped
	// Offline, when true, skips acquiring the single-instance lock and
	// never connects to MQTT.
	Offline bool
}

// New resolves the mapper's directory and layout, acquires its lock
// (unless Offline), and builds every shared subsystem a flow or bridge
// may depend on, logging a warning for each unrecognised entry under the
// mappers root. The MQTT connection, flow engine and bridge rules are
// set up by Start.
func New(opts Options) (*App, error) {
	base := opts.Log
	if base == nil {
		base = logging.NewScoped(logging.New(logging.DefaultConfig()), nil)
	}
	scoped := base.With("mapper", opts.Name)

	if names, err := lifecycle.ScanMappersRoot(); err == nil {
		for _, entry := range lifecycle.Unrecognised(lifecycle.Classify(names)) {
			scoped.With("entry", entry).Warn("unrecognised mapper directory")
		}
	}

	identity := lifecycle.NewServiceIdentity(opts.Name, opts.Profile)
	dir := lifecycle.ResolveDir(opts.Name, opts.Profile)

	layout, err := lifecycle.ScanLayout(dir)
	if err != nil {
		return nil, err
	}

	app := &App{
		Name:     opts.Name,
		Profile:  opts.Profile,
		Identity: identity,
		Dir:      dir,
		Layout:   layout,
		Config:   opts.Config,
		Store:    contextstore.New(),
		Registry: steps.NewRegistry(),
		Pool:     worker.NewPool(scoped),
		Log:      scoped,
	}

	if !opts.Offline {
		lock, err := lifecycle.AcquireLock(identity.LockPath)
		if err != nil {
			return nil, err
		}
		app.lock = lock
	}

	sandboxRuntime, err := sandbox.New(sandbox.Limits{
		WallClock: opts.Config.SandboxTimeout,
		HeapBytes: opts.Config.SandboxHeapCap,
	}, opts.Config.ProgramCacheCap, scoped.With("component", "sandbox"))
	if err != nil {
		return nil, fmt.Errorf("mapperapp: sandbox: %w", err)
	}
	app.Sandbox = sandboxRuntime

	persister, err := contextstore.OpenPersister(filepath.Join(dir, "context.db"))
	if err == nil {
		if snapshot, loadErr := persister.Load(); loadErr == nil {
			app.Store.RestoreMapper(snapshot)
		}
		app.persister = persister
	} else {
		scoped.WithError(err).Warn("mapper context persistence unavailable, continuing in-memory only")
	}

	return app, nil
}

// Start connects MQTT (unless offline), starts the flow engine (if
// flows/ is present) and compiles the bridge rule file bridge/rules.toml
// (if tedge.toml is present), then starts the worker pool. The rule file
// is compiled once here and is not watched for changes; the compiled
// table is kept for ForwardingTable and is not installed as forwarding on
// any broker connection. Health is published "down" once MQTT connects,
// then "up" after startup, or "down" again if bridge compilation failed.
func (a *App) Start(ctx context.Context) error {
	if !a.offline() {
		mqttConn, err := connector.NewMQTT(ctx, connector.MQTTOptions{
			Broker:   a.Config.MQTTBroker,
			ClientID: a.Config.MQTTClientID,
			Username: a.Config.MQTTUsername,
			Password: a.Config.MQTTPassword,
		}, a.Log.With("component", "mqttconn"))
		if err != nil {
			return fmt.Errorf("mapperapp: mqtt connect: %w", err)
		}
		a.mqtt = mqttConn
		if err := lifecycle.PublishHealth(ctx, mqttConn, a.Identity.HealthTopic, "down"); err != nil {
			a.Log.WithError(err).Warn("failed to publish health status")
		}
	}

	health := "up"
	activeSubsystems := make([]string, 0, 2)

	if a.Layout.HasFlowsDir {
		flowsDir := filepath.Join(a.Dir, "flows")
		builder := &flow.Builder{
			FlowsDir: flowsDir,
			Registry: a.Registry,
			Sandbox:  a.Sandbox,
			Store:    a.Store,
			MQTT:     a.mqtt,
			Log:      a.Log,
		}
		a.manager = flow.NewManager(a.Pool, builder, a.Log)
		a.loader = flow.NewLoader(flowsDir, a.Registry, a.Log, 0)

		valid, invalid := a.loader.LoadAll()
		for path, parseErr := range invalid {
			a.Log.With("path", path).WithError(parseErr).Error("flow validation failed, flow not started")
		}
		for path, def := range valid {
			if err := a.manager.Add(def); err != nil {
				a.Log.With("path", path).WithError(err).Error("failed to start flow")
			}
		}
		activeSubsystems = append(activeSubsystems, fmt.Sprintf("flows=%d", len(valid)))

		go func() {
			if err := a.loader.Watch(ctx, a.manager.Reconcile); err != nil {
				a.Log.WithError(err).Warn("flow directory watch stopped")
			}
		}()
	}

	if a.Layout.HasTedgeTOML {
		rulesPath := filepath.Join(a.Dir, "bridge", "rules.toml")
		ruleFile, err := bridge.LoadFile(rulesPath)
		if err == nil {
			resolver := bridge.NamespaceResolver(a.Layout.TedgeTOML, a.Layout.TedgeTOML, a.Layout.TedgeTOML)
			table, compileErr := bridge.Compile(ruleFile, resolver)
			if compileErr != nil {
				a.Log.WithError(compileErr).Error("bridge rule compilation failed")
				health = "down"
			} else {
				a.forwarding = table
				activeSubsystems = append(activeSubsystems, fmt.Sprintf("bridge-entries=%d", len(table.Entries)))
			}
		} else {
			a.Log.WithError(err).Warn("tedge.toml present but no bridge rules file found")
		}
	}

	a.Pool.Start(ctx)

	a.Log.With("subsystems", activeSubsystems).Info("mapper started")

	if a.mqtt != nil {
		if err := lifecycle.PublishHealth(ctx, a.mqtt, a.Identity.HealthTopic, health); err != nil {
			a.Log.WithError(err).Warn("failed to publish health status")
		}
	}

	return nil
}

func (a *App) offline() bool { return a.lock == nil }

// ForwardingTable returns the compiled bridge forwarding table, or nil if
// no bridge was configured.
func (a *App) ForwardingTable() *bridge.ForwardingTable { return a.forwarding }

// Stop tears down the mapper: stops all flows, disconnects MQTT, persists
// the context store, and releases the lock.
func (a *App) Stop() {
	a.Pool.Stop()
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.persister != nil {
		if err := a.persister.Save(a.Store.MapperSnapshot()); err != nil {
			a.Log.WithError(err).Warn("failed to persist mapper context on shutdown")
		}
		a.persister.Close()
	}
	if a.lock != nil {
		a.lock.Release()
	}
}
