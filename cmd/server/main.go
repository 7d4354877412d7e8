// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/kmrnm/ADABRA/internal/handlers"
	"github.com/kmrnm/ADABRA/internal/room"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	reg := room.NewRegistry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go room.NewTimerService(reg, logger).Run(ctx)
	go reg.RunReaper(ctx)

	router := handlers.NewRouter(logger, reg, "public")

	addr := ":3000"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{Addr: addr, Handler: router}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()
	logger.Infof("listening on %s", addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("server exited: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}
