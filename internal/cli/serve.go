package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notescrub/notescrub/internal/config"
	"github.com/notescrub/notescrub/internal/logger"
	"github.com/notescrub/notescrub/internal/model"
	"github.com/notescrub/notescrub/internal/phi"
	"github.com/notescrub/notescrub/internal/server"
	"github.com/notescrub/notescrub/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notescrub API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting notescrub",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("model_provider", cfg.Model.Provider),
	)

	pipeline, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(cfg, pipeline, log)

	// Hot-reload the default policy on config file changes.
	if err := config.Watch(cfg, srv.UpdateConfig); err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		log.Info("Server shutdown complete")
	}

	return nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

func buildPipeline(cfg *config.Config, log *logger.Logger) (*session.Pipeline, error) {
	pattern, err := phi.NewDetector(cfg.Detection.Rules, log.WithComponent("phi"))
	if err != nil {
		return nil, err
	}

	detector, err := model.NewDetector(model.ProviderConfig{
		Provider: cfg.Model.Provider,
		Endpoint: cfg.Model.Endpoint,
		APIKey:   cfg.Model.APIKey,
		Model:    cfg.Model.Model,
		Timeout:  cfg.Model.Timeout,
	}, log.WithComponent("model"))
	if err != nil {
		return nil, err
	}

	return session.NewPipeline(pattern, detector, cfg.Session.TTL, cfg.Session.CleanupInterval, log), nil
}
