package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	grpcclient "chat-plugin/internal/grpc"
	"chat-plugin/internal/handlers"
	"chat-plugin/internal/jobs"
	"chat-plugin/internal/middleware"
	"chat-plugin/internal/observability"
	"chat-plugin/internal/services"
	"chat-plugin/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, a *app) error {
	hub := ws.NewHub(a.logger)

	var svc *services.Services
	if a.cfg.AMQP.URL == "" {
		queue := jobs.NewInlineQueue(a.cfg.Jobs.Workers, a.logger)
		defer queue.Close()
		svc = a.services(hub, queue)
		runner, err := a.runner(svc, queue)
		if err != nil {
			return err
		}
		queue.Start(ctx, runner.Run)
		a.logger.Info("jobs run in-process", "workers", a.cfg.Jobs.Workers)
	} else {
		queue, relay, err := a.broker()
		if err != nil {
			return err
		}
		svc = a.services(relay, queue)
		go func() {
			if err := relay.Consume(ctx, hub); err != nil {
				a.logger.Error("realtime relay stopped", "error", err)
			}
		}()
		a.logger.Info("jobs queued on rabbitmq", "queue", a.cfg.AMQP.Queue)
	}

	conn, err := grpcclient.Dial(a.cfg.Identity.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	identity := grpcclient.NewIdentityClient(conn)
	directory := grpcclient.NewDirectory(a.users, identity)

	if !a.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(a.cfg.OTel.ServiceName),
		observability.RequestLogger(a.logger),
		observability.HTTPMetricsMiddleware(),
	)
	router.GET("/healthz", func(c *gin.Context) {
		if err := a.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", observability.MetricsHandler())
	router.GET("/ws/chat", ws.NewHandler(hub, identity, services.NewSubscriptionAuthorizer(svc), a.logger).Handle)

	chat := router.Group("/chat", middleware.AuthMiddleware(identity, directory, a.presence, a.logger))
	handlers.NewChatHandler(svc, svc.Messages, svc.Reactions, svc.Invites, a.logger).Register(chat)
	handlers.NewChannelHandler(svc, svc.Memberships, svc.Archiver, a.logger).Register(chat)
	handlers.NewReviewHandler(svc.Reviews, a.logger).Register(chat)
	handlers.RegisterDebugRoutes(router, a.audit, a.cfg.Server.Debug)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("http shutting down")
	return srv.Shutdown(shutdownCtx)
}
