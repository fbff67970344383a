package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/httpapi"
	"call-signaling/internal/push"
	"call-signaling/internal/rtctoken"
	"call-signaling/internal/signaling"
	"call-signaling/pkg/logger"
	"call-signaling/pkg/utils"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal outside local runs.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("env file not loaded", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var fbApp *firebase.App
	if cfg.Auth.Mode == config.AuthModeFirebase || cfg.Push.Provider == config.PushProviderFCM {
		fbApp, err = utils.OpenFirebase(rootCtx, utils.FirebaseConfig{
			ProjectID:       cfg.Auth.FirebaseProjectID,
			CredentialsFile: cfg.Push.FCMCredentialsFile,
		})
		if err != nil {
			log.Error("firebase init failed", "err", err)
			os.Exit(1)
		}
	}

	var idTokens auth.IDTokenVerifier
	if cfg.Auth.Mode == config.AuthModeFirebase {
		client, err := fbApp.Auth(rootCtx)
		if err != nil {
			log.Error("firebase auth init failed", "err", err)
			os.Exit(1)
		}
		idTokens = client
	}

	authManager, err := auth.NewManager(cfg.Auth, idTokens)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	issuer, err := rtctoken.NewIssuer(rtctoken.Config{
		AppID:          cfg.Agora.AppID,
		AppCertificate: cfg.Agora.AppCertificate,
		TTL:            cfg.Agora.TokenTTL,
	})
	if err != nil {
		log.Error("agora init failed", "err", err)
		os.Exit(1)
	}

	db, dialect, err := openDB(rootCtx, cfg)
	if err != nil {
		log.Error("database init failed", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	callRepo := calls.NewSQLRepo(db, dialect)
	auditRepo := audit.NewSQLRepo(db)
	if err := migrate(rootCtx, callRepo, auditRepo); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	var (
		feed    calls.Feed
		claimer calls.Claimer
		guard   signaling.Guard
	)
	if cfg.HasRedis() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		feed, claimer, guard = redisCoordination(rdb, cfg, log)
	} else {
		log.Warn("redis not configured; change feed and dedup are process-local")
		feed = calls.NewMemoryFeed(log)
		claimer = calls.NewMemoryClaimer(0)
	}

	sender, closeSender, err := newPushSender(rootCtx, cfg, fbApp)
	if err != nil {
		log.Error("push init failed", "provider", cfg.Push.Provider, "err", err)
		os.Exit(1)
	}
	defer closeSender()

	dispatcher := push.NewDispatcher(sender, push.DispatcherConfig{
		Timeout: cfg.Push.Timeout,
		Log:     log,
	})
	auditSvc := audit.NewService(auditRepo)
	store := calls.ObservedStore{Store: callRepo, Feed: feed, Log: log}

	svc := signaling.NewService(signaling.Deps{
		Store:         store,
		Verifier:      authManager,
		Issuer:        issuer,
		Pusher:        dispatcher,
		Guard:         guard,
		Audit:         auditSvc,
		InitialStatus: calls.Status(cfg.Calls.InitialStatus),
		StepTimeout:   cfg.Calls.StepTimeout,
	})

	watcher := calls.NewWatcher(calls.WatcherConfig{
		Feed:     feed,
		Notifier: signaling.IncomingNotifier{Pusher: dispatcher, Audit: auditSvc},
		Claimer:  claimer,
		Log:      log,
		Timeout:  cfg.Calls.StepTimeout,
	})
	go func() {
		if err := watcher.Run(rootCtx); err != nil {
			log.Error("call watcher exited", "err", err)
			stop()
		}
	}()

	janitor := calls.NewJanitor(callRepo, cfg.Calls.Retention, cfg.Calls.JanitorInterval, log)
	go janitor.Run(rootCtx)

	r := newRouter(log, httpapi.Handlers{Calls: svc, Feed: feed}, auth.RequireIDToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "push", sender.Name(), "db", cfg.DB.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, utils.Dialect, error) {
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		db, err := utils.OpenSQLite(ctx, cfg.DB.SQLitePath)
		return db, utils.DialectSQLite, err
	default:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		return db, utils.DialectPostgres, err
	}
}

func migrate(ctx context.Context, callRepo *calls.SQLRepo, auditRepo *audit.SQLRepo) error {
	if err := callRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("calls: %w", err)
	}
	if err := auditRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

// redisCoordination shares the change feed, watcher dedup and the initiate
// guard across instances.
func redisCoordination(rdb *redis.Client, cfg config.Config, log *slog.Logger) (calls.Feed, calls.Claimer, signaling.Guard) {
	return calls.NewRedisFeed(rdb, calls.DefaultChangesChannel, log),
		calls.NewRedisClaimer(rdb, 0),
		signaling.NewRedisGuard(rdb, cfg.Calls.InFlightTTL, log)
}

func newPushSender(ctx context.Context, cfg config.Config, app *firebase.App) (push.Sender, func(), error) {
	switch cfg.Push.Provider {
	case config.PushProviderMQTT:
		cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		s, err := push.NewMQTTSender(cctx, push.MQTTConfig{
			BrokerURL:   cfg.Push.MQTTBrokerURL,
			ClientID:    cfg.Push.MQTTClientID,
			Username:    cfg.Push.MQTTUsername,
			Password:    cfg.Push.MQTTPassword,
			TopicPrefix: cfg.Push.MQTTTopicPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := push.NewFCMSender(ctx, app)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}
