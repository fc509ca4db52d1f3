package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/orchestrd/internal/checkpoint"
	"github.com/fyrsmithlabs/orchestrd/internal/config"
	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus"
	"github.com/fyrsmithlabs/orchestrd/internal/nodes"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
	"github.com/fyrsmithlabs/orchestrd/internal/telemetry"
)

// app holds every long-lived dependency of the daemon.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	natsServer *natsserver.Server
	nc         *nats.Conn
	publisher  *natsbus.Publisher

	hitl   *hitl.Manager
	runner *runner.Runner

	// cancels background watchers
	stop context.CancelFunc
}

// newApp wires the daemon from cfg. Logs go to out. On error everything
// already started is torn down.
func newApp(ctx context.Context, cfg *config.Config, out zapcore.WriteSyncer) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if err := a.initObservability(ctx, out); err != nil {
		return nil, err
	}
	zl := a.logger.Underlying()

	if err := a.initNATS(zl); err != nil {
		return nil, err
	}

	store, err := a.initCheckpoints(ctx, zl)
	if err != nil {
		return nil, err
	}

	bg, stop := context.WithCancel(context.Background())
	a.stop = stop
	registry, err := buildRegistry(bg, cfg, a.nc, a.publisher.Subjects(), zl)
	if err != nil {
		return nil, err
	}

	a.hitl = hitl.NewManager(hitl.Config{
		DefaultTimeout:   cfg.HITL.DefaultTimeout.Duration(),
		Retention:        cfg.HITL.Retention.Duration(),
		BroadcastTimeout: cfg.HITL.BroadcastTimeout.Duration(),
	}, hitl.WithBroadcaster(a.publisher), hitl.WithLogger(zl.Named("hitl")))

	a.runner, err = runner.New(runner.Config{
		Registry: registry,
		Planner: orchestrator.NewPlanner(
			orchestrator.WithDefaultMaxIterations(cfg.Engine.DefaultMaxIterations),
			orchestrator.WithPlannerLogger(zl.Named("planner")),
		),
		HITL:  a.hitl,
		Store: store,
		Sinks: []orchestrator.EventSink{a.publisher},
		EngineOptions: []orchestrator.EngineOption{
			orchestrator.WithNodeTimeout(cfg.Engine.NodeTimeout.Duration()),
			orchestrator.WithApprovalTimeout(cfg.Engine.ApprovalTimeout.Duration()),
			orchestrator.WithMaxIterationsPolicy(orchestrator.MaxIterationsPolicy(cfg.Engine.MaxIterationsPolicy)),
			orchestrator.WithApprovalTimeoutPolicy(orchestrator.ApprovalTimeoutPolicy(cfg.Engine.ApprovalTimeoutPolicy)),
			orchestrator.WithTracer(a.telemetry.Tracer("github.com/fyrsmithlabs/orchestrd/internal/orchestrator")),
		},
		Logger: zl.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating runner: %w", err)
	}

	zl.Info("orchestrd initialized",
		zap.Strings("nodes", nodeNames(registry.IDs())),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.Bool("nats_embedded", a.natsServer != nil),
		zap.Bool("telemetry_degraded", a.telemetry.Degraded()))
	return a, nil
}

// initObservability builds telemetry and the logger. Telemetry needs a logger
// before the final one exists, so a stdout-only bootstrap logger is used for
// its own messages.
func (a *app) initObservability(ctx context.Context, out zapcore.WriteSyncer) error {
	lcfg := logging.NewDefaultConfig()
	if err := a.cfg.Section("logging", lcfg); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	tcfg := telemetry.NewDefaultConfig()
	tcfg.ServiceVersion = version
	if err := a.cfg.Section("telemetry", tcfg); err != nil {
		return fmt.Errorf("telemetry config: %w", err)
	}

	boot := *lcfg
	boot.Output = logging.OutputConfig{Stdout: true}
	bootLogger, err := logging.NewLoggerTo(&boot, out, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	a.telemetry, err = telemetry.New(ctx, tcfg, bootLogger.Underlying().Named("telemetry"))
	if err != nil {
		return err
	}

	a.logger, err = logging.NewLoggerTo(lcfg, out, a.telemetry.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	return nil
}

func (a *app) initNATS(zl *zap.Logger) error {
	url := a.cfg.NATS.URL
	var opts []nats.Option
	if a.cfg.NATS.Embedded {
		srv, err := natsbus.StartEmbedded(natsbus.EmbeddedConfig{
			Host:     a.cfg.NATS.Host,
			Port:     a.cfg.NATS.Port,
			StoreDir: a.cfg.NATS.StoreDir,
		}, zl.Named("nats"))
		if err != nil {
			return err
		}
		a.natsServer = srv
		url = srv.ClientURL()
	} else if a.cfg.NATS.Token.IsSet() {
		opts = append(opts, nats.Token(a.cfg.NATS.Token.Value()))
	}

	nc, err := natsbus.Connect(url, "orchestrd", zl.Named("nats"), opts...)
	if err != nil {
		return err
	}
	a.nc = nc
	a.publisher = natsbus.NewPublisher(nc, natsbus.Subjects{Prefix: a.cfg.NATS.SubjectPrefix}, zl.Named("events"))
	zl.Info("connected to nats", zap.String("url", url), zap.String("subject_prefix", a.cfg.NATS.SubjectPrefix))
	return nil
}

func (a *app) initCheckpoints(ctx context.Context, zl *zap.Logger) (checkpoint.Store, error) {
	var store checkpoint.Store
	switch a.cfg.Checkpoint.Backend {
	case config.BackendKV:
		js, err := jetstream.New(a.nc)
		if err != nil {
			return nil, fmt.Errorf("creating jetstream context: %w", err)
		}
		kv, err := checkpoint.NewKVStore(ctx, js, checkpoint.KVConfig{
			Bucket: a.cfg.Checkpoint.Bucket,
			TTL:    a.cfg.Checkpoint.TTL.Duration(),
		})
		if err != nil {
			return nil, err
		}
		store = kv
	default:
		store = checkpoint.NewMemoryStore()
	}
	return checkpoint.NewService(store, zl.Named("checkpoint"),
		checkpoint.WithTracerProvider(a.telemetry.TracerProvider()),
		checkpoint.WithMeterProvider(a.telemetry.MeterProvider()),
	), nil
}

// buildRegistry registers the built-in nodes, then command nodes, then a
// remote proxy for every configured remote node not already present. ctx
// bounds background watchers.
func buildRegistry(ctx context.Context, cfg *config.Config, nc *nats.Conn, subjects natsbus.Subjects, zl *zap.Logger) (*orchestrator.Registry, error) {
	reg := orchestrator.NewRegistry()
	nodesCfg := cfg.Nodes

	if nodesCfg.Security.Enabled {
		gate, err := nodes.NewSecurityGate(
			nodes.WithAllowlistFile(nodesCfg.Security.Allowlist),
			nodes.WithSecurityLogger(zl.Named("security_gate")),
		)
		if err != nil {
			return nil, err
		}
		if nodesCfg.Security.Watch && nodesCfg.Security.Allowlist != "" {
			go func() {
				if err := gate.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					zl.Warn("allowlist watcher stopped", zap.Error(err))
				}
			}()
		}
		if err := reg.Register(orchestrator.NodeSecurityGate, gate); err != nil {
			return nil, err
		}
	}

	if nodesCfg.Persistence.Enabled {
		p := nodes.NewGitPersistence(nodesCfg.Persistence.RepoDir,
			nodes.WithAuthor(nodesCfg.Persistence.AuthorName, nodesCfg.Persistence.AuthorEmail),
			nodes.WithPersistenceLogger(zl.Named("persistence")),
		)
		if err := reg.Register(orchestrator.NodePersistence, p); err != nil {
			return nil, err
		}
	}

	// model-backed nodes share one limiter
	var limiter *rate.Limiter
	if cfg.Engine.NodeRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Engine.NodeRate), max(cfg.Engine.NodeBurst, 1))
	}

	for id, command := range nodesCfg.Exec.Commands {
		node, err := nodes.NewExec(orchestrator.NodeID(id), command,
			nodes.WithWorkDir(nodesCfg.Exec.WorkDir),
			nodes.WithExecTimeout(nodesCfg.Exec.Timeout.Duration()),
		)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(orchestrator.NodeID(id), orchestrator.RateLimited(node, limiter)); err != nil {
			return nil, err
		}
	}

	for _, name := range nodesCfg.Remote.Nodes {
		id := orchestrator.NodeID(name)
		if reg.Has(id) {
			continue
		}
		remote := nodes.NewRemote(nc, id, subjects.Node(name), nodesCfg.Remote.Timeout.Duration())
		if err := reg.Register(id, orchestrator.RateLimited(remote, limiter)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// close releases everything in reverse order of creation
func (a *app) close(ctx context.Context) {
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "runner shutdown incomplete", zap.Error(err))
		}
	}
	if a.hitl != nil {
		a.hitl.Close()
	}
	if a.stop != nil {
		a.stop()
	}
	if a.nc != nil {
		drained := make(chan struct{})
		a.nc.SetClosedHandler(func(*nats.Conn) { close(drained) })
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		} else {
			select {
			case <-drained:
			case <-time.After(5 * time.Second):
				a.nc.Close()
			}
		}
	}
	if a.natsServer != nil {
		a.natsServer.Shutdown()
		a.natsServer.WaitForShutdown()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func nodeNames(ids []orchestrator.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
