package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zapdesk/zapdesk/pkg/zapdesk/ai"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/config"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/connector/whatsapp"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/events"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/pipeline"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/schedule"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/session"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/store"
	"github.com/zapdesk/zapdesk/pkg/zapdesk/webui"
)

// newServeCmd creates the serve command that runs the full server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ZapDesk server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runServe(configPath)
		},
	}
}

func runServe(configPath string) error {
	// A missing .env file is fine; it only supplies env overrides.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required (set server.jwt_secret or ZAPDESK_JWT_SECRET)")
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	logger.Info("zapdesk starting")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger)
	bus.Start(ctx)

	provider := ai.NewOpenAI(ai.OpenAIConfig{
		APIKey:     cfg.AI.APIKey,
		BaseURL:    cfg.AI.BaseURL,
		EmbedModel: cfg.AI.EmbedModel,
	})
	generator := ai.NewGenerator(st, provider, logger)

	pipe := pipeline.New(st, generator, bus, logger)
	pipe.SetComposing(cfg.WhatsApp.SendComposing)

	waCfg := whatsapp.Config{
		SessionDir: cfg.WhatsApp.SessionDir,
	}
	factory := connector.Factory(func(sessionID string) (connector.Connector, error) {
		return whatsapp.New(sessionID, waCfg, logger)
	})

	manager := session.NewManager(st, factory, pipe, bus, logger)
	pipe.SetSender(manager)

	scheduler := schedule.New(st, bus, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	dashboard := webui.New(webui.Config{
		Addr:      cfg.Server.Addr,
		JWTSecret: cfg.Server.JWTSecret,
		TokenTTL:  cfg.Server.TokenTTL,
	}, st, manager, provider, bus, logger)
	if err := dashboard.Start(ctx); err != nil {
		return fmt.Errorf("starting dashboard: %w", err)
	}

	if err := manager.StartAll(ctx); err != nil {
		logger.Error("starting sessions failed", "error", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	dashboard.Stop()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), session.ShutdownTimeout)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	bus.Stop()
	logger.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
