package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/civigo/docflow/internal/config"
	httpserver "github.com/civigo/docflow/internal/interfaces/http"
	"github.com/civigo/docflow/internal/repository"
	"github.com/civigo/docflow/internal/templates"
	"github.com/civigo/docflow/internal/workflow"
	"github.com/civigo/docflow/pkg/database"
	"github.com/civigo/docflow/pkg/utils"
)

func main() {
	// Local overrides for development; missing .env is fine
	_ = gotenv.Load()

	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting docflow workflow engine",
		zap.String("storage", cfg.Workflow.Storage),
		zap.Int("port", cfg.Server.Port))

	var (
		templateRepo repository.TemplateRepository
		instanceRepo repository.InstanceRepository
		historyRepo  repository.HistoryRepository
	)

	switch cfg.Workflow.Storage {
	case "memory":
		templateRepo = repository.NewMemoryTemplateRepository()
		instanceRepo = repository.NewMemoryInstanceRepository()
		historyRepo = repository.NewMemoryHistoryRepository()
	default:
		db, err := database.New(database.Config{
			Path:            cfg.Database.Path,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer db.Close()

		migrator := database.NewMigrator(db, logger)
		if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}

		templateRepo = repository.NewSQLiteTemplateRepository(db, logger)
		instanceRepo = repository.NewSQLiteInstanceRepository(db, logger)
		historyRepo = repository.NewSQLiteHistoryRepository(db, logger)
	}

	loader := templates.NewLoader(templateRepo, logger)
	if err := loader.LoadDir(cfg.Workflow.TemplatesDir); err != nil {
		logger.Fatal("Failed to seed workflow templates", zap.Error(err))
	}

	engine := workflow.NewEngine(templateRepo, instanceRepo, historyRepo, logger)

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited")
}
