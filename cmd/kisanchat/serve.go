package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "kisanmandi/docs"
	"kisanmandi/pkg/chat"
	"kisanmandi/pkg/config"
	"kisanmandi/pkg/conversations"
	"kisanmandi/pkg/db"
	"kisanmandi/pkg/identity"
	"kisanmandi/pkg/jobs"
	"kisanmandi/pkg/messages"
	"kisanmandi/pkg/notify"
	"kisanmandi/pkg/offers"
	"kisanmandi/pkg/presence"
	"kisanmandi/pkg/profiles"
	"kisanmandi/pkg/realtime"
	"kisanmandi/pkg/typing"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func newBus(ctx context.Context, cfg config.RedisConfig, hub *realtime.Hub) (realtime.Bus, error) {
	if cfg.URL == "" {
		bus := realtime.NewLocalBus()
		bus.Attach(hub.Dispatch)
		log.Println("Realtime bus: in-process")
		return bus, nil
	}

	client, err := realtime.NewRedisClient(cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	bus := realtime.NewRedisBus(client)
	go func() {
		if err := bus.Run(ctx, hub.Dispatch); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("realtime bus stopped: %v", err)
		}
	}()
	log.Println("Realtime bus: redis")
	return bus, nil
}

func newRouter(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", identity.HeaderUserID},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           12 * time.Hour,
	}))
	return router
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	hub := realtime.NewHub()
	bus, err := newBus(ctx, cfg.Redis, hub)
	if err != nil {
		return err
	}

	directory := profiles.NewPostgresDirectory(pool)
	tracker := presence.NewTracker(presence.NewPostgresRepository(pool), bus, cfg.Chat.PresenceStaleAfter)
	convService := conversations.NewService(conversations.NewPostgresRepository(pool), directory, tracker, cfg.Chat.ConversationUpsert)

	inbox := notify.NewPostgresInbox(pool)
	notifier := notify.Fanout{inbox, notify.NewPushNotifier(bus)}
	if cfg.SendGrid.APIKey != "" {
		notifier = append(notifier, notify.NewEmailNotifier(notify.NewSendGridSender(cfg.SendGrid), directory))
	}

	msgService := messages.NewService(messages.NewPostgresMessageStore(pool), convService, tracker, bus, notifier,
		messages.Options{MaxLength: cfg.Chat.MaxMessageLength})
	signaler := typing.NewSignaler(convService, bus, cfg.Chat.TypingTTL)
	offerService := offers.NewService(offers.NewPostgresRepository(pool), convService, msgService, notifier,
		offers.Options{UPIID: cfg.Offers.UPIID, AppName: cfg.Offers.AppName})

	scheduler := jobs.NewScheduler()
	if err := jobs.Register(scheduler, *cfg, offerService, tracker); err != nil {
		return err
	}
	scheduler.Start()

	router := newRouter(cfg)

	// the websocket handshake resolves identity itself since browsers cannot set headers
	chat.NewHandler(hub, msgService, convService, tracker, signaler).RegisterRoutes(router)

	api := router.Group("/", identity.Require())
	conversations.NewHandler(convService).RegisterRoutes(api)
	messages.NewHandler(msgService).RegisterRoutes(api)
	offers.NewHandler(offerService).RegisterRoutes(api)
	presence.NewHandler(tracker).RegisterRoutes(api)
	typing.NewHandler(signaler).RegisterRoutes(api)
	notify.NewHandler(inbox).RegisterRoutes(api)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv, cfg)
	}()
	log.Printf("Listening on :%s (tls=%t)", cfg.Server.Port, cfg.TLS.Enabled)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Printf("jobs did not finish: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exiting")
	return nil
}

// listen serves plain HTTP unless TLS is enabled.
func listen(srv *http.Server, cfg *config.Config) error {
	if !cfg.TLS.Enabled {
		return srv.ListenAndServe()
	}

	tlsConfig, certFile, keyFile, err := buildTLSConfig(cfg.TLS, cfg.IsProduction())
	if err != nil {
		return fmt.Errorf("TLS setup error: %w", err)
	}
	srv.TLSConfig = tlsConfig
	return srv.ListenAndServeTLS(certFile, keyFile)
}
