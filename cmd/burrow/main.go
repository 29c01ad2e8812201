package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/action"
	"github.com/cuemby/burrow/pkg/dispatch"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/profile"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - Cluster lifecycle orchestrator",
	Long: `Burrow manages fleets of homogeneous compute nodes grouped into
clusters and executes lifecycle operations against them: create, delete,
update, resize, scale, add or remove nodes, and attach policies.

Cluster operations fan out per-node work through a dispatcher and gather
outcomes under cancellation and timeout.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Burrow engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		locks := lock.NewClusterLock()
		registry := policy.NewRegistry()

		// Profile types resolve through the registry; one static provider
		// serves both its own type and unqualified references until a real
		// driver is registered.
		static := profile.NewStaticProvider()
		provider := profile.NewRegistry(static)
		provider.Register(profile.StaticType, static)

		pool := dispatch.NewPool(store, provider, broker, cfg.Workers)
		pool.Start()
		defer pool.Stop()

		engine := action.NewEngine(action.Config{
			Store:      store,
			Lock:       locks,
			Dispatcher: pool,
			Gate:       policy.NewGate(store, registry),
			Registry:   registry,
			Provider:   provider,
			Broker:     broker,
		})
		runnerStop := make(chan struct{})
		go runUserActions(engine, store, time.Duration(cfg.ActionTimeout), runnerStop)
		defer close(runnerStop)

		recon := reconciler.NewReconciler(store, locks)
		recon.Start()
		defer recon.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "running")
		metrics.RegisterComponent("dispatcher", true, "running")
		metrics.RegisterComponent("reconciler", true, "running")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())

		server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Metrics server failed", err)
			}
		}()
		defer server.Close()

		log.WithComponent("main").Info().
			Str("data_dir", cfg.DataDir).
			Str("listen", cfg.ListenAddr).
			Int("workers", cfg.Workers).
			Msg("Burrow engine started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
}
