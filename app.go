package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"

	"chat-plugin/internal/config"
	"chat-plugin/internal/db"
	"chat-plugin/internal/jobs"
	"chat-plugin/internal/presence"
	"chat-plugin/internal/rabbitmq"
	"chat-plugin/internal/repositories"
	"chat-plugin/internal/services"
	"chat-plugin/internal/telemetry"
)

const auditRoutingKey = "audit.chat"

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	users    *repositories.UserRepo
	store    services.Store
	presence services.Presence
	audit    *telemetry.AuditEmitter
	closers  []func() error
}

func withApp(ctx context.Context, configPath string, run func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return err
	}
	defer a.close()
	if err := run(ctx, a); err != nil {
		a.logger.Error("command failed", "error", err)
		return err
	}
	return nil
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger}

	shutdown, err := telemetry.SetupTracing(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	database, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		a.close()
		return nil, err
	}
	a.db = database
	a.closers = append(a.closers, database.Close)

	a.users = repositories.NewUserRepo(database)
	a.store = services.Store{
		Channels:      repositories.NewChannelRepo(database),
		Memberships:   repositories.NewMembershipRepo(database),
		Messages:      repositories.NewMessageRepo(database),
		Mentions:      repositories.NewMentionRepo(database),
		Notifications: repositories.NewNotificationRepo(database),
		Reactions:     repositories.NewReactionRepo(database),
		Users:         a.users,
		Archives:      repositories.NewArchiveRepo(database),
		Reviewables:   repositories.NewReviewableRepo(database),
	}

	if cfg.Redis.Addr != "" {
		r, err := presence.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			a.close()
			return nil, err
		}
		a.presence = r
		a.closers = append(a.closers, r.Close)
		logger.Info("presence backed by redis", "addr", cfg.Redis.Addr)
	} else {
		a.presence = presence.NewDatabase(a.users)
		logger.Info("presence backed by database")
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	a.closers = append(a.closers, auditPublisher.Close)
	mode, reason := rabbitmq.Describe(auditPublisher)
	logger.Info("audit publisher ready", "mode", mode, "reason", reason)
	a.audit = telemetry.NewAuditEmitter(auditPublisher, auditRoutingKey, cfg.OTel.ServiceName, cfg.Server.Environment, logger)
	return a, nil
}

// services builds the chat services publishing to pub and queueing on q.
func (a *app) services(pub services.Publisher, q jobs.Queue) *services.Services {
	return services.New(services.Deps{
		Store:     a.store,
		Publisher: pub,
		Jobs:      q,
		Presence:  a.presence,
		Audit:     a.audit,
		Limits:    a.cfg.Chat,
		Logger:    a.logger,
	})
}

// runner registers every job handler of svc and returns a runner that
// retries on q.
func (a *app) runner(svc *services.Services, q jobs.Queue) (*jobs.Runner, error) {
	reg := jobs.NewRegistry()
	if err := svc.RegisterJobs(reg); err != nil {
		return nil, err
	}
	return jobs.NewRunner(reg, q, a.logger, a.cfg.Jobs.MaxAttempts, a.cfg.Jobs.BaseBackoff), nil
}

// broker connects the AMQP job queue and realtime relay.
func (a *app) broker() (*rabbitmq.JobQueue, *rabbitmq.EventRelay, error) {
	q, err := rabbitmq.NewJobQueue(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.cfg.AMQP.Queue, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, q.Close)
	relay, err := rabbitmq.NewEventRelay(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.logger)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, relay.Close)
	return q, relay, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

func runMigrate(ctx context.Context, a *app) error {
	return db.Migrate(ctx, a.db, a.logger)
}

func runWorker(ctx context.Context, a *app) error {
	if a.cfg.AMQP.URL == "" {
		return fmt.Errorf("worker needs amqp.url; serve runs jobs in-process without a broker")
	}
	q, relay, err := a.broker()
	if err != nil {
		return err
	}
	svc := a.services(relay, q)
	runner, err := a.runner(svc, q)
	if err != nil {
		return err
	}
	runner.OnDeadLetter(q.DeadLetter)

	a.logger.Info("worker consuming", "queue", a.cfg.AMQP.Queue, "workers", a.cfg.Jobs.Workers)
	return q.Consume(ctx, a.cfg.Jobs.Workers, runner.Run)
}
