// cmd/client is the local-first client process (C11): it keeps a durable
// mirror of whatever lists it creates or loads, applies every mutation
// locally first, and reconciles with the cluster in the background
// through a round-robin server pool and an SSE subscription.
//
// Example:
//
//	./client --data-dir /tmp/c1 \
//	          --servers http://localhost:8001,http://localhost:8002 \
//	          --coordinator http://localhost:9000
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knirvcorp/shoplist/internal/client"
	"github.com/knirvcorp/shoplist/internal/logging"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/storage"
)

func main() {
	dataDir := flag.String("data-dir", "/tmp/shoplist-client", "directory for this client's durable store")
	serversFlag := flag.String("servers", "http://localhost:8001,http://localhost:8002,http://localhost:8003", "comma-separated storage node base URLs")
	coordinatorAddr := flag.String("coordinator", "http://localhost:9000", "SSE coordinator base URL")
	logLevel := flag.String("log-level", "info", "zap log level")
	flag.Parse()

	zapLog, err := logging.NewLogger(*logLevel, "json")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zapLog.Sync()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	store, err := storage.Open(*dataDir + "/client.db")
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	var servers []string
	for _, s := range strings.Split(*serversFlag, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}

	engine, err := client.New(client.Options{
		Servers:         servers,
		CoordinatorAddr: *coordinatorAddr,
		Store:           store,
		Log:             zapLog.Logger,
		Metrics:         monitoring.NewMetrics(),
	})
	if err != nil {
		log.Fatalf("start client: %v", err)
	}

	engine.Start()
	zapLog.Info("client engine running, syncing against " + *serversFlag)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("shutting down client")
	if err := engine.Stop(); err != nil {
		log.Printf("client shutdown error: %v", err)
	}
}
