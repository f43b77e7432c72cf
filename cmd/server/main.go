package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vouch/internal/approval"
	"vouch/internal/audit"
	"vouch/internal/notify"
	"vouch/internal/otp"
	"vouch/internal/platform/config"
	"vouch/internal/platform/httpserver"
	"vouch/internal/platform/logger"
	"vouch/internal/platform/metrics"
	"vouch/internal/platform/middleware"
	"vouch/internal/platform/postgres"
	redisplatform "vouch/internal/platform/redis"
	"vouch/internal/purchase"
	"vouch/internal/roles"
	httptransport "vouch/internal/transport/http"
	txcontext "vouch/pkg/platform/tx"
)

const shutdownTimeout = 10 * time.Second

// main wires dependencies and runs the server. Business logic lives in the
// internal service packages; anything here should read as plumbing.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vouch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	m := metrics.New()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if db != nil {
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	rdb, err := redisplatform.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Store selection: Postgres and Redis when configured, in-memory
	// otherwise. The in-memory fallbacks are for development only.
	var (
		roleStore    roles.Store
		ledger       purchase.Store
		auditStore   audit.Store
		mirrorSource audit.MirrorSource
		outbox       notify.Outbox
		runner       txcontext.Runner
	)
	if db != nil {
		roleStore = roles.NewPostgresStore(db)
		ledger = purchase.NewPostgresStore(db)
		pgAudit := audit.NewPostgresStore(db)
		auditStore, mirrorSource = pgAudit, pgAudit
		outbox = notify.NewPostgresOutbox(db)
		runner = txcontext.NewSQLRunner(db)
	} else {
		log.Warn("postgres not configured, using in-memory stores")
		memAudit := audit.NewInMemoryStore()
		roleStore = roles.NewInMemoryStore()
		ledger = purchase.NewInMemoryStore()
		auditStore, mirrorSource = memAudit, memAudit
		outbox = notify.NewInMemoryOutbox()
		runner = txcontext.NoopRunner{}
	}

	var otpStore otp.Store
	if rdb != nil {
		otpStore = otp.NewRedisStore(rdb.Client)
	} else {
		log.Warn("redis not configured, OTP challenges will not survive a restart")
		otpStore = otp.NewInMemoryStore()
	}

	auditor := audit.NewPublisher(auditStore)

	rolesSvc, err := roles.NewService(roleStore, auditor, log, m)
	if err != nil {
		return err
	}
	otpSvc, err := otp.NewService(otpStore, rolesSvc, auditor, log, m,
		otp.WithTTL(cfg.OTP.TTL),
		otp.WithStepUpWindow(cfg.OTP.StepUpWindow),
		otp.WithIssueRate(cfg.OTP.IssuePerMinute),
	)
	if err != nil {
		return err
	}
	purchaseSvc, err := purchase.NewService(ledger, auditor, log)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.Notify.RequestTimeout}
	var channels []notify.Channel
	if cfg.Notify.ChatOpsWebhookURL != "" {
		channels = append(channels, notify.NewChatOpsChannel(cfg.Notify.ChatOpsWebhookURL, httpClient))
	}
	if cfg.Notify.EmailAPIURL != "" {
		channels = append(channels, notify.NewEmailChannel(cfg.Notify.EmailAPIURL, cfg.Notify.EmailAPIKey, httpClient))
	}
	if len(channels) == 0 {
		log.Warn("no notification channels configured, decisions will not be announced")
	}
	fanout := notify.NewFanout(channels, log, m)
	worker := notify.NewWorker(outbox, fanout, log,
		notify.WithPollInterval(cfg.Notify.PollInterval),
		notify.WithMaxAttempts(cfg.Notify.MaxAttempts),
		notify.WithBaseBackoff(cfg.Notify.BaseBackoff),
	)

	engine, err := approval.NewEngine(ledger, rolesSvc, auditor, outbox, runner, log, m, approval.WithWaker(worker))
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(
		httptransport.Config{DevMode: cfg.DevMode, RequireStepUp: cfg.OTP.RequireStepUp},
		httptransport.Deps{
			Logger:    log,
			Metrics:   m,
			Validator: middleware.NewHMACValidator(cfg.JWTSigningKey),
			OTP:       otpSvc,
			StepUp:    otpSvc,
			Purchases: purchaseSvc,
			Claims:    purchaseSvc,
			Decisions: engine,
			Roles:     rolesSvc,
			RoleGate:  rolesSvc,
			Audit:     auditor,
			Health: func(ctx context.Context) error {
				if db != nil {
					if err := db.PingContext(ctx); err != nil {
						return err
					}
				}
				if rdb != nil {
					return rdb.Health(ctx)
				}
				return nil
			},
		},
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting vouch", "addr", cfg.Addr, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return ignoreCancel(worker.Run(gctx))
	})

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := audit.NewKafkaProducer(cfg.KafkaBrokers, cfg.AuditKafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer producer.Close()
		mirror := audit.NewMirror(mirrorSource, producer, log, m)
		g.Go(func() error {
			return ignoreCancel(mirror.Run(gctx))
		})
		log.Info("audit mirror enabled", "topic", cfg.AuditKafkaTopic)
	}

	err = g.Wait()
	log.Info("vouch stopped")
	return ignoreCancel(err)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
