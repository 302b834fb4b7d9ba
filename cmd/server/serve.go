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

	"github.com/spf13/cobra"

	"github.com/lkj1313/LiveBoard/internal/api"
	"github.com/lkj1313/LiveBoard/internal/auth"
	"github.com/lkj1313/LiveBoard/internal/cache"
	"github.com/lkj1313/LiveBoard/internal/config"
	"github.com/lkj1313/LiveBoard/internal/db"
	"github.com/lkj1313/LiveBoard/internal/ratelimit"
	"github.com/lkj1313/LiveBoard/internal/retention"
	"github.com/lkj1313/LiveBoard/internal/router"
	"github.com/lkj1313/LiveBoard/internal/session"
	"github.com/lkj1313/LiveBoard/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "listen port (env PORT)")
	v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func serve(cfg *config.Config) error {
	database, err := db.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	opts := router.DefaultOptions()
	opts.EraseThreshold = cfg.Erase.Threshold
	opts.ChatHistoryLimit = cfg.Chat.HistoryLimit

	var chatCache *cache.ChatCache
	if cfg.Redis.Addr != "" {
		c, err := cache.NewChatCache(cache.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxMessages: cfg.Chat.HistoryLimit,
		})
		if err != nil {
			log.Printf("[Redis] unavailable, chat history served from the database: %v", err)
		} else {
			chatCache = c
			defer chatCache.Close()
			opts.Cache = chatCache
		}
	}

	registry := session.NewRegistry()
	rt := router.New(database, registry, opts)

	hub := ws.NewHub()
	go hub.Run()

	var tokens *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	}

	socket := ws.NewHandler(hub, rt, tokens, ws.Settings{
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		MessagesPerSecond: cfg.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.WebSocket.MessageBurst,
		RequireAuth:       cfg.Auth.Require,
		AllowedOrigins:    cfg.CORS.AllowOrigins,
	})

	// Room creation: one per second per address, bursts of five
	creates := ratelimit.NewClientLimiters(1, 5)
	defer creates.Stop()

	apiHandler := api.New(hub, registry, database, creates)
	if chatCache != nil {
		apiHandler.WithChatCache(chatCache)
	}

	// The REST surface only demands a token when auth is required.
	var apiTokens *auth.JWTManager
	if cfg.Auth.Require {
		apiTokens = tokens
	}
	handler := api.CORS(cfg.CORS.AllowOrigins, apiHandler.Routes(socket, apiTokens))

	pruner := retention.New(database, retention.Config{
		Interval:     cfg.Retention.Interval,
		KeepMessages: cfg.Retention.KeepMessages,
	})
	pruner.Start()
	defer pruner.Stop()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("LiveBoard server starting on %s", srv.Addr)
		log.Printf("Database: %s", cfg.DB.Path)
		log.Println("Endpoints:")
		log.Println("  - WebSocket:  /ws")
		log.Println("  - Health:     GET /health")
		log.Println("  - Stats:      GET /api/stats")
		log.Println("  - Rooms:      GET/POST /api/rooms")
		log.Println("  - Room:       GET /api/rooms/{id}")
		log.Println("  - Background: GET/PUT /api/rooms/{id}/background")
		log.Println("  - Images:     GET/POST /api/rooms/{id}/images")
		log.Println("  - Image:      PUT/DELETE /api/rooms/{id}/images/{imageId}")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err, ok := <-errCh:
		if ok {
			hub.Stop()
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-sigChan:
		log.Printf("Received %v, shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	// Upgraded sockets are hijacked and outlive Shutdown; stopping the hub
	// closes their send channels.
	hub.Stop()

	log.Println("Server stopped")
	return nil
}
