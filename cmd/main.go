package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FlowtrackAPI/internal/auth"
	"FlowtrackAPI/internal/config"
	"FlowtrackAPI/internal/db"
	"FlowtrackAPI/internal/handler"
	"FlowtrackAPI/internal/logger"
	"FlowtrackAPI/internal/model"
	"FlowtrackAPI/internal/notify"
	"FlowtrackAPI/internal/resolver"
	"FlowtrackAPI/internal/router"
	"FlowtrackAPI/internal/workflow"

	"github.com/Masterminds/squirrel"
	"github.com/spf13/cobra"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:           "flowtrack",
	Short:         "Production workflow tracking over the ERP order store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply the embedded workflow-store migrations",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		down := len(args) == 1 && args[0] == "down"
		if err := db.Migrate(cfg.PostgresDSN, down); err != nil {
			return err
		}
		logger.Info("migrations_applied", map[string]any{"down": down})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := logger.Init("."); err != nil {
			return fmt.Errorf("log init failed: %w", err)
		}
		logger.SetDebug(debugFlag)
		return nil
	}
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flowtrack: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("config_invalid", map[string]any{"error": err.Error()})
		return err
	}

	// PostgreSQL: собственная база workflow
	workflowStore, err := db.InitPostgres(ctx, "workflow", cfg.PostgresDSN)
	if err != nil {
		logger.Error("postgres_init_failed", map[string]any{"error": err.Error()})
		return err
	}
	defer workflowStore.Close()
	logger.Info("postgres_connected", map[string]any{"store": "workflow"})

	legacyStore, err := db.OpenSQL(ctx, "legacy", "postgres", cfg.LegacyDSN, squirrel.Dollar)
	if err != nil {
		logger.Error("legacy_init_failed", map[string]any{"error": err.Error()})
		return err
	}
	defer legacyStore.Close()
	logger.Info("postgres_connected", map[string]any{"store": "legacy"})

	// Initialize registry
	cat, err := model.InitRegistry(cfg.CatalogDir)
	if err != nil {
		logger.Error("registry_init_failed", map[string]any{"error": err.Error()})
		return err
	}
	logger.Info("catalog_initialized", map[string]any{"entities": len(cat.Entities)})

	sink, err := notify.New(cfg.Notify)
	if err != nil {
		logger.Error("notify_init_failed", map[string]any{"error": err.Error()})
		return err
	}
	defer sink.Close()

	engine, err := resolver.NewEngine(cat, legacyStore, workflowStore, resolver.Options{
		Since:     cfg.LegacySince,
		DoneStage: cfg.DoneStage,
	})
	if err != nil {
		logger.Error("engine_init_failed", map[string]any{"error": err.Error()})
		return err
	}
	items, err := workflow.New(cat, legacyStore, workflowStore, sink, workflow.Options{
		WorkingWeekend: cfg.Workflow.WorkingWeekend,
	})
	if err != nil {
		logger.Error("workflow_init_failed", map[string]any{"error": err.Error()})
		return err
	}

	var validator *auth.JWTValidator
	if cfg.Auth.Enabled {
		if validator, err = auth.NewJWTValidator(cfg.Auth.JWT); err != nil {
			logger.Error("auth_init_failed", map[string]any{"error": err.Error()})
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg.CORS, handler.New(engine, items, cfg.QueryTimeout), validator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"port": cfg.Port})
		log.Printf("Starting server on port %s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_error", map[string]any{"error": err.Error()})
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
