package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/Gandolfi-G/duel-dot/internal/cache"
	"github.com/Gandolfi-G/duel-dot/internal/config"
	"github.com/Gandolfi-G/duel-dot/internal/game"
	"github.com/Gandolfi-G/duel-dot/internal/registry"
	"github.com/Gandolfi-G/duel-dot/internal/ws"
)

func main() {
	cfg := config.Load()
	initLogging(cfg.LogLevel)

	ctx := context.Background()

	if cfg.RedisAddr != "" {
		if err := cache.Init(ctx, cfg.RedisAddr); err != nil {
			logrus.WithError(err).Warn("redis unavailable, match-event history disabled")
		} else {
			logrus.WithField("addr", cfg.RedisAddr).Info("connected to redis")
			defer cache.Close()
		}
	}

	hub := ws.NewHub()
	clock := clockwork.NewRealClock()

	var reg *registry.Registry
	reg = registry.New(func(code string) *game.Session {
		s := game.NewSession(code, cfg.Game, clock)
		s.Send = hub.Send
		s.OnClosed = func(code string) { reg.Remove(code) }
		return s
	})

	handler := ws.NewHandler(reg, hub, cfg.AllowedOrigins)

	r := mux.NewRouter()
	r.HandleFunc("/ws", handler.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"sessions":    reg.Count(),
			"connections": hub.Count(),
		})
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("forced shutdown")
	}
	logrus.Info("server exited")
}

func initLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
