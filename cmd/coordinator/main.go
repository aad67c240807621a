// cmd/coordinator is the SSE fan-out process (C10). It holds no durable
// state: storage nodes post BROADCAST envelopes to it and it multicasts
// them to every connected SSE subscriber.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/knirvcorp/shoplist/internal/coordinator"
	"github.com/knirvcorp/shoplist/internal/logging"
	"github.com/knirvcorp/shoplist/internal/monitoring"
)

func main() {
	addr := flag.String("addr", ":9000", "listen address (host:port)")
	logLevel := flag.String("log-level", "info", "zap log level")
	flag.Parse()

	zapLog, err := logging.NewLogger(*logLevel, "json")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zapLog.Sync()

	hub := coordinator.NewHub(zapLog.Logger, monitoring.NewMetrics())
	srv := coordinator.NewServer(hub, zapLog.Logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	srv.Register(router)

	httpSrv := &http.Server{
		Addr:    *addr,
		Handler: router,
		// SSE connections are long-lived; no WriteTimeout.
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("coordinator listening on " + *addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("shutting down coordinator")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
