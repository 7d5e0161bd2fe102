package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/swarmgate/internal/agentproc"
	"github.com/ppiankov/swarmgate/internal/alert"
	"github.com/ppiankov/swarmgate/internal/authz"
	"github.com/ppiankov/swarmgate/internal/bus"
	"github.com/ppiankov/swarmgate/internal/config"
	"github.com/ppiankov/swarmgate/internal/evidence"
	"github.com/ppiankov/swarmgate/internal/gate"
	"github.com/ppiankov/swarmgate/internal/kill"
	"github.com/ppiankov/swarmgate/internal/model"
	"github.com/ppiankov/swarmgate/internal/orch"
	"github.com/ppiankov/swarmgate/internal/roe"
	"github.com/ppiankov/swarmgate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the safety core",
	Long:  "Loads the rules of engagement, wires the signal bus, authorization gate, kill switch,\nand evidence recorder, and serves the operator API.\nThe RoE file is hot-reloaded; a broken edit keeps the previous version active.",
	RunE:  runServe,
}

// roeReloadHook broadcasts every accepted RoE replacement as a scope_update
// signal so running agents re-check their targets against the new document.
// A rejected reload only logs: the previous version stays active.
func roeReloadHook(log *slog.Logger, signals bus.Bus, holder *roe.Holder) func(*roe.Snapshot, error) {
	return func(snap *roe.Snapshot, err error) {
		if err != nil {
			log.Error("roe reload rejected, previous version stays active", "error", err)
			return
		}
		version := holder.Version()
		log.Info("roe reloaded", "hash", snap.Hash, "version", version)

		sig := bus.NewSignal(model.SignalScopeUpdate, "", map[string]any{
			"engagement": snap.Doc.Engagement,
			"hash":       snap.Hash,
			"version":    version,
		})
		if perr := signals.Publish(context.Background(), sig); perr != nil {
			log.Error("scope update broadcast failed", "error", perr)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if !model.ValidRunID(cfg.RunID) {
		return fmt.Errorf("unknown run_id %q", cfg.RunID)
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	snap, err := roe.Load(cfg.RoEPath)
	if err != nil {
		return fmt.Errorf("load rules of engagement: %w", err)
	}
	holder := roe.NewHolder()
	holder.Replace(snap)
	log.Info("roe loaded", "path", cfg.RoEPath, "hash", snap.Hash, "aggression", snap.Doc.Aggression)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var signals bus.Bus
	switch cfg.Bus.Transport {
	case "redis":
		r := bus.NewRedis(cfg.Bus.RedisAddr, cfg.Bus.RedisPass, cfg.Bus.RedisDB)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := r.Ping(pingCtx)
		pingCancel()
		if err != nil {
			return fmt.Errorf("redis bus unreachable: %w", err)
		}
		signals = r
	default:
		if cfg.Bus.Buffer > 0 {
			signals = bus.NewMemoryBuffered(cfg.Bus.Buffer)
		} else {
			signals = bus.NewMemory()
		}
	}
	defer signals.Close()

	reloader, err := roe.NewReloader(holder, cfg.RoEPath, roeReloadHook(log, signals, holder))
	if err != nil {
		log.Warn("hot-reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}

	registry := agentproc.NewRegistry()

	authzStore, err := authz.NewStore(cfg.Authz.Dir)
	if err != nil {
		return fmt.Errorf("open authorization store: %w", err)
	}
	alerts := alert.NewDispatcher(cfg.Alerts)

	authzGate := authz.NewGate(authzStore, signals, registry,
		authz.WithTimeout(cfg.Authz.Timeout),
		authz.WithOnExpire(func(req authz.Request) {
			log.Warn("authorization expired, agent paused", "action_id", req.ActionID, "agent_id", req.AgentID)
			alerts.Dispatch(alert.Event{
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Type:      alert.EventAuthorizationTimeout,
				AgentID:   req.AgentID,
				ActionID:  req.ActionID,
				Target:    req.Target,
				Reason:    "authorization request expired after decision window",
			})
		}))
	go authzGate.Run(ctx, cfg.Authz.SweepInterval)

	var orchClient kill.Orchestrator
	if cfg.Orch.URL != "" {
		orchClient = orch.NewClient(cfg.Orch.URL, cfg.Orch.Timeout)
	}
	killsw := kill.NewSwitch(signals, registry, orchClient, kill.WithDeadline(cfg.Kill.Deadline))

	chain, err := evidence.Open(cfg.Evidence.LogPath)
	if err != nil {
		return fmt.Errorf("open evidence log: %w", err)
	}
	defer chain.Close()

	store, err := evidence.OpenStore(cfg.Evidence.DBPath)
	if err != nil {
		return fmt.Errorf("open evidence store: %w", err)
	}
	defer store.Close()

	recorder := evidence.NewRecorder(chain, store)

	pipeline := gate.New(holder, authzGate, recorder, signals, registry, killsw, alerts, model.RunID(cfg.RunID))

	srv := server.New(server.Config{ListenAddr: cfg.ListenAddr},
		pipeline, authzGate, killsw, registry, holder, store, alerts)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info("swarmgate listening", "addr", cfg.ListenAddr, "run_id", cfg.RunID, "bus", cfg.Bus.Transport)
	return srv.Serve()
}
