package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	httpapi "github.com/partnerly/callmesh/internal/api/http"
	"github.com/partnerly/callmesh/internal/assist"
	"github.com/partnerly/callmesh/internal/config"
	"github.com/partnerly/callmesh/internal/media"
	"github.com/partnerly/callmesh/internal/session"
	"github.com/partnerly/callmesh/internal/signaling"
	"github.com/partnerly/callmesh/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	userID := cfg.Signaling.UserID
	if userID == "" {
		userID = uuid.New().String()
		log.Info("no user id configured, generated one", slog.String("user_id", userID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalClient, err := signaling.Dial(ctx, signaling.Config{
		URL:        cfg.Signaling.URL,
		UserID:     userID,
		MaxRetries: cfg.Signaling.MaxRetries,
		RetryDelay: cfg.Signaling.RetryDelay,
	}, log)
	if err != nil {
		log.Error("failed to connect signaling", slog.Any("error", err))
		os.Exit(1)
	}
	defer signalClient.Close()

	acquirer := media.NewAcquirer(media.NewSyntheticDevice(), log)

	callSession := session.New(session.Config{
		UserID:            userID,
		STUNServers:       cfg.WebRTC.STUNServers,
		MinSignalInterval: cfg.WebRTC.MinSignalInterval,
		CallTimeout:       cfg.Signaling.CallTimeout,
	}, signalClient, acquirer, log)
	defer callSession.Dispose()

	aiClient := assist.NewClient(cfg.Assist.BaseURL, cfg.Assist.RequestTimeout, log)
	assistSession := assist.New(assist.Config{
		UserID:          userID,
		BufferWindow:    cfg.Assist.BufferWindow,
		PruneInterval:   cfg.Assist.PruneInterval,
		AmbientInterval: cfg.Assist.AmbientInterval,
		StreamChunkSize: cfg.Assist.StreamChunkSize,
		StreamDelay:     cfg.Assist.StreamDelay,
		Notify: func(message string) {
			callSession.Notify(session.NoticeWarn, message)
		},
	}, aiClient, assist.NewSessionSources(callSession), log)
	callSession.SetAssistStopper(assistSession.Stop)

	go callSession.Run(ctx)

	callController := httpapi.NewCallController(callSession)
	assistController := httpapi.NewAssistController(assistSession)
	router := httpapi.SetupRouter(callController, assistController)

	log.Info("starting call agent",
		slog.String("addr", cfg.HTTP.Address),
		slog.String("user_id", userID),
	)
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
