// Package main is the entry point for the cifleet controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cifleet/internal/config"
	"cifleet/internal/controller"
	"cifleet/internal/controller/handlers"
	"cifleet/internal/debugsession"
	"cifleet/internal/logger"
	"cifleet/internal/nodes"
	"cifleet/internal/notify"
	"cifleet/internal/observability"
	"cifleet/internal/planner"
	"cifleet/internal/reclaim"
	"cifleet/internal/registry"
	"cifleet/internal/reuse"
	"cifleet/internal/store"
	"cifleet/internal/store/memory"
	"cifleet/internal/store/postgres"
	"cifleet/internal/throttle"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, *migrateFlag); err != nil {
		log.Error("controller failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrate bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer st.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "cifleet-controller", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Error("failed to shutdown metrics", "error", err)
		}
	}()
	if err := observability.RegisterFleetGauges(fleetStats(st)); err != nil {
		slog.Warn("failed to register fleet gauges", "error", err)
	}

	pods, router := reclaimers(cfg)
	lifecycle := nodes.New(st, router)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(notify.WebhookConfig{URL: cfg.NotifyWebhookURL})
	}

	sessions := debugsession.NewManager(st, lifecycle, debugsession.Config{
		Window:          cfg.DebugWindow,
		ScheduledWindow: cfg.DebugWindowHourly,
		ReleaseLogDir:   cfg.ReleaseLogDir,
	})
	monitor := debugsession.NewMonitor(sessions, notifier, debugsession.MonitorConfig{
		Interval:    cfg.DebugScanInterval,
		Concurrency: cfg.DebugScanConcurrency,
		APIURL:      cfg.PublicURL,
	})
	go monitor.Run(ctx)

	if pods != nil {
		sweeper := reclaim.NewZombieSweeper(st, pods, lifecycle, notifier, reclaim.SweeperConfig{
			Interval: cfg.ZombieSweepInterval,
			MinAge:   cfg.ZombieMinAge,
			Prefix:   k8sPrefix(cfg.EphemeralPrefixes),
			LogDir:   cfg.ReleaseLogDir,
		})
		go sweeper.Run(ctx)
	}

	exemptions, err := throttle.LoadExemptions(cfg.ThrottleExemptionsFile)
	if err != nil {
		return err
	}
	guard := throttle.NewGuard(st, cfg.ThrottleLimit, exemptions)

	costs, err := planner.LoadCostTable(cfg.CostFile)
	if err != nil {
		return err
	}

	h := handlers.New(handlers.Deps{
		Store:    st,
		Registry: registry.New(st, guard, sessions, registry.Config{AutoGrant: cfg.DebugAutoGrant}),
		Sessions: sessions,
		Nodes:    lifecycle,
		Throttle: guard,
		Matcher:  reuse.NewMatcher(st),
		Costs:    costs,
	})

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, h, controller.Options{
		Logger:         slog.Default(),
		TokenHash:      cfg.InternalTokenHash,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
	})

	go func() {
		slog.Info("cifleet controller starting", "addr", addr, "store", cfg.StoreDriver)
		if err := srv.Run(ctx); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down controller")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exited properly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.EntityStore, error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("using in-memory store, state is lost on restart")
		return memory.New(), nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	// Run migrations if requested
	if migrate {
		slog.Info("running database migrations")
		if err := postgres.Migrate(pg.DB()); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("migrations completed successfully")
	}
	return pg, nil
}

// reclaimers builds the teardown backend for every ephemeral prefix. The
// Kubernetes backend is also returned as the pod lister of the zombie
// sweeper; it is nil when no cluster is reachable.
func reclaimers(cfg *config.Config) (reclaim.PodLister, *reclaim.Router) {
	uninstaller := reclaim.NewCommandUninstaller(cfg.UninstallCommand, cfg.UninstallTimeout)
	backends := make(map[string]reclaim.Teardown)

	var pods reclaim.PodLister
	for _, prefix := range cfg.EphemeralPrefixes {
		switch {
		case strings.HasPrefix(prefix, "k8s"):
			k8s, err := reclaim.NewKubernetesTeardown(reclaim.KubernetesConfig{
				Namespace:  cfg.K8sNamespace,
				Kubeconfig: cfg.K8sKubeconfig,
				Prefix:     prefix,
			})
			if err != nil {
				slog.Warn("kubernetes teardown disabled", "prefix", prefix, "error", err)
				continue
			}
			backends[prefix] = k8s
			pods = k8s
		case strings.HasPrefix(prefix, "docker"):
			d, err := reclaim.NewDockerTeardown()
			if err != nil {
				slog.Warn("docker teardown disabled", "prefix", prefix, "error", err)
				continue
			}
			backends[prefix] = d
		default:
			slog.Warn("no teardown backend for ephemeral prefix", "prefix", prefix)
		}
	}
	return pods, reclaim.NewRouter(uninstaller, backends)
}

func k8sPrefix(prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(p, "k8s") {
			return p
		}
	}
	return ""
}

// fleetStats counts debugging jobs and offline nodes for the gauges.
func fleetStats(st store.EntityStore) observability.FleetStats {
	return func(ctx context.Context) (int64, int64, error) {
		debug := true
		jobs, err := st.QueryJobs(ctx, store.JobFilter{
			Kinds:       []store.JobKind{store.KindBuild, store.KindTest},
			DebugStatus: &debug,
		})
		if err != nil {
			return 0, 0, err
		}
		var debugging int64
		for i := range jobs {
			if jobs[i].Debugging() {
				debugging++
			}
		}

		offline := store.NodeStatusOffline
		offNodes, err := st.QueryNodes(ctx, store.NodeFilter{Status: &offline})
		if err != nil {
			return 0, 0, err
		}
		return debugging, int64(len(offNodes)), nil
	}
}
