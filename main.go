package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/remindbot/internal/backup"
	"github.com/pathakanu/remindbot/internal/bot"
	"github.com/pathakanu/remindbot/internal/config"
	"github.com/pathakanu/remindbot/internal/database"
	"github.com/pathakanu/remindbot/internal/irc"
	"github.com/pathakanu/remindbot/internal/ledger"
	"github.com/pathakanu/remindbot/internal/logging"
	"github.com/pathakanu/remindbot/internal/store"
	"github.com/pathakanu/remindbot/internal/twilio"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runSessions(ctx, cfg, logger)
	logger.Info("shutting down...")
}

// runSessions runs one session at a time, starting a fresh one against a
// clean reload of the store whenever the previous one fails.
func runSessions(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	for {
		sessionLogger := logger.With(zap.String("session", uuid.NewString()))
		err := runSession(ctx, cfg, sessionLogger)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			sessionLogger.Error("session ended", zap.Error(err), zap.Bool("storage", store.IsStorageError(err)))
		} else {
			sessionLogger.Warn("session ended")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ReconnectDelay):
		}
	}
}

func runSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close", zap.Error(err))
		}
	}()

	l, err := ledger.Open(ctx, st)
	if err != nil {
		return err
	}
	logger.Info("ledger loaded",
		zap.Int("pending", l.Len()),
		zap.Time("last_seen_at", l.LastSeenAt()))

	if cfg.BackupSchedule != "" {
		job, err := backup.New(cfg.BackupSchedule, cfg.BackupPath, l, cfg.LocalTimezone, logger)
		if err != nil {
			return err
		}
		job.Start()
		defer job.Stop()
	}

	botCfg := bot.Config{
		Recipient: cfg.Recipient,
		BotName:   cfg.BotName,
		Channel:   cfg.Channel,
		Cooldown:  cfg.Cooldown,
		About:     cfg.AboutText,
		Keywords: bot.Keywords{
			Remind: cfg.CmdRemind,
			Done:   cfg.CmdDone,
			List:   cfg.CmdList,
			About:  cfg.CmdAbout,
		},
	}

	switch cfg.Transport {
	case config.TransportWhatsApp:
		return runWhatsApp(ctx, cfg, botCfg, l, logger)
	default:
		client := irc.New(irc.Config{
			Server:        cfg.IRCServer,
			Port:          cfg.IRCPort,
			TLS:           cfg.IRCTLS,
			Nick:          cfg.BotName,
			Channel:       cfg.Channel,
			NickCollision: irc.SuffixCollision(cfg.IRCNickSuffix),
		}, logger)
		reminderBot := bot.New(botCfg, l, client, logger, bot.WithNick(client.Nick))
		return client.Run(ctx, reminderBot)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s, err := store.NewRedisStore(ctx, client, cfg.RedisKey)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("store: redis", zap.String("addr", cfg.RedisAddr))
		return s, nil
	case config.StoreFile:
		s, err := store.NewFileStore(ctx, cfg.DataFile)
		if err != nil {
			return nil, err
		}
		logger.Info("store: file", zap.String("path", cfg.DataFile))
		return s, nil
	default:
		db, err := database.New(cfg.DatabaseURL, cfg.DataFile, logger)
		if err != nil {
			return nil, &store.StorageError{Op: "open", Err: err}
		}
		s, err := store.NewSQLStore(ctx, db)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		return s, nil
	}
}

func runWhatsApp(ctx context.Context, cfg *config.Config, botCfg bot.Config, l *ledger.Ledger, logger *zap.Logger) error {
	twilioClient := twilio.New(twilio.Config{
		AccountSID:        cfg.TwilioAccountSID,
		AuthToken:         cfg.TwilioAuthToken,
		FromWhatsApp:      cfg.TwilioWhatsAppNumber,
		PublicDestination: botCfg.Channel,
		PublicTo:          cfg.TwilioPublicTo,
		SendRate:          cfg.TwilioSendRate,
	}, logger)
	reminderBot := bot.New(botCfg, l, twilioClient, logger)

	sessionCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	mux := http.NewServeMux()
	webhook := twilio.WebhookConfig{
		AuthToken: cfg.TwilioAuthToken,
		PublicURL: cfg.TwilioWebhookURL,
	}
	mux.Handle("/twilio/webhook", twilio.Webhook(reminderBot, webhook, logger, cancel))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(err)
		}
	}()

	reminderBot.OnSessionEstablished(sessionCtx)
	<-sessionCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	if ctx.Err() != nil {
		return nil
	}
	return context.Cause(sessionCtx)
}
