// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/quizroyale/quizroyale/internal/auth"
	"github.com/quizroyale/quizroyale/internal/cache"
	"github.com/quizroyale/quizroyale/internal/database"
	"github.com/quizroyale/quizroyale/internal/handlers"
	"github.com/quizroyale/quizroyale/internal/middleware"
	"github.com/quizroyale/quizroyale/internal/room"
	"github.com/quizroyale/quizroyale/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := auth.Init(); err != nil {
		logger.Fatalf("failed to init session keys: %v", err)
	}

	ctx := context.Background()

	st, closeStore, err := buildStore(ctx, logger)
	if err != nil {
		logger.Fatalf("failed to init store: %v", err)
	}
	defer closeStore()

	var finishers []room.Finisher
	if os.Getenv("ARCHIVE_ENABLED") == "true" {
		pool, err := database.Connect(ctx)
		if err != nil {
			logger.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer pool.Close()
		finishers = append(finishers, database.NewArchive(pool))
	}
	if os.Getenv("SESSION_QUEUE_ENABLED") == "true" {
		rdb, err := cache.Connect(ctx)
		if err != nil {
			logger.Fatalf("failed to connect to Redis queue: %v", err)
		}
		defer rdb.Close()
		finishers = append(finishers, cache.NewQueue(rdb))
	}

	svc := room.NewService(st, logger, finishers...)
	srv := handlers.NewServer(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/room/create", srv.CreateRoomHandler)
	mux.HandleFunc("/room/join", srv.JoinRoomHandler)
	mux.Handle("/room/ws/", srv.RoomWSHandler())
	mux.HandleFunc("/room/", srv.GetRoomHandler)

	server := &http.Server{
		Handler:      middleware.LogMiddleware(logger)(mux),
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 60, // WS upgrades outlive this via hijack
	}

	port := os.Getenv("QUIZROYALE_PORT")
	if port == "" {
		port = "8080"
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}
}

// buildStore selects the document store backend from STORE_BACKEND:
// "memory" (default, single process) or "redis" (shared across replicas).
func buildStore(ctx context.Context, logger *logrus.Logger) (store.Store, func(), error) {
	switch strings.ToLower(os.Getenv("STORE_BACKEND")) {
	case "", "memory":
		logger.Info("using in-memory document store")
		return store.NewMemory(), func() {}, nil
	case "redis":
		rdb, err := cache.Connect(ctx)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using Redis document store")
		return store.NewRedis(rdb), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", os.Getenv("STORE_BACKEND"))
	}
}
