// Command pianoroom runs the collaborative piano server: one websocket
// endpoint, in-memory rooms, sqlite-backed identities and chat history.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arivum/pianoroom/internal/config"
	"github.com/arivum/pianoroom/internal/hub"
	"github.com/arivum/pianoroom/internal/logger"
	"github.com/arivum/pianoroom/internal/store"
	"github.com/arivum/pianoroom/internal/transport"
)

func main() {
	cfg := config.FromEnv()
	logger.SetLevel(cfg.LogLevel)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Errorf("open store: %v", err)
		os.Exit(1)
	}

	h := hub.New(hub.Options{
		Store:       st,
		AdminPhrase: cfg.AdminPhrase,
		SaltOne:     cfg.SaltOne,
		SaltTwo:     cfg.SaltTwo,
	})
	h.CreateRoom(hub.DefaultRoomName, true, false)
	h.SeedTestRoom()

	srv := transport.New(transport.ServerConfig{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.AllowedOrigins,
		TestCookie:     cfg.TestCookie,
		OnConnect: func(c *transport.Client) error {
			return h.Connect(c, c.Addr())
		},
		OnFrame: func(c *transport.Client, data []byte) {
			h.HandleFrame(c, data)
		},
		OnDisconnect: func(c *transport.Client) {
			h.Disconnect(c)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go h.Run(ctx)

	if err := srv.Start(ctx); err != nil {
		logger.Errorf("start server: %v", err)
		os.Exit(1)
	}
	logger.Infof("server is running on %s", cfg.Addr)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
