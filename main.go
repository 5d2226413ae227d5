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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-client/internal/api"
	"chat-client/internal/auth"
	"chat-client/internal/config"
	"chat-client/internal/handlers"
	"chat-client/internal/middleware"
	"chat-client/internal/observability"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/session"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
	"chat-client/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	log.Printf("event publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.AppName, cfg.Env)

	// The anonymous client serves login and refresh; the token store then
	// authenticates every other call.
	anon := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, nil)
	tokens := auth.NewTokenStore(anon)
	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout, tokens)

	wsOpts := ws.DefaultOptions()
	wsOpts.MaxAttempts = cfg.ReconnectMaxAttempts
	transport := ws.NewClient(cfg.SocketURL, tokens, wsOpts)

	conversations := store.New(client, transport, store.Options{})
	sess := session.New(transport, conversations, tokens, anon, audit)
	if cfg.AccessToken != "" {
		tokens.SetTokens(auth.Tokens{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken})
		err = sess.Start(ctx)
	} else {
		err = sess.Login(ctx, cfg.LoginEmail, cfg.LoginPassword)
	}
	if err != nil {
		log.Printf("session not started, waiting for POST /login: %v", err)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.AppName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	chatHandler := handlers.NewChatHandler(conversations, sess, audit)
	chatHandler.RegisterRoutes(router, middleware.RequireSession(tokens))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	srv := &http.Server{Addr: cfg.AdapterAddr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("adapter listening on %s", cfg.AdapterAddr)

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	sess.Close()
	if err := publisher.Close(); err != nil {
		log.Printf("publisher close: %v", err)
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}
}
