// cmd/node is the storage node process (C9): it answers the client REST
// surface, participates in the replication mesh over the node request
// channel, and runs the hinted-handoff flush loop.
//
// Example — 3-node cluster:
//
//	./node --id node1 --addr :8001 --data-dir /tmp/n1 \
//	       --peers node1=http://localhost:8001,node2=http://localhost:8002,node3=http://localhost:8003 \
//	       --coordinator http://localhost:9000
//	./node --id node2 --addr :8002 --data-dir /tmp/n2 \
//	       --peers node1=http://localhost:8001,node2=http://localhost:8002,node3=http://localhost:8003 \
//	       --coordinator http://localhost:9000
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/logging"
	"github.com/knirvcorp/shoplist/internal/monitoring"
	"github.com/knirvcorp/shoplist/internal/node"
	"github.com/knirvcorp/shoplist/internal/storage"
	"github.com/knirvcorp/shoplist/internal/tracing"
)

func main() {
	nodeID := flag.String("id", "node1", "unique node identifier")
	addr := flag.String("addr", ":8001", "listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/shoplist", "directory for this node's durable store")
	peersFlag := flag.String("peers", "", "comma-separated cluster membership: id=http://host:port (must include self)")
	coordinatorAddr := flag.String("coordinator", "http://localhost:9000", "SSE coordinator base URL")
	replicationN := flag.Int("n", 3, "replication factor (N)")
	writeQuorum := flag.Int("w", 2, "write quorum (W)")
	readQuorum := flag.Int("r", 2, "read quorum (R)")
	jaegerEndpoint := flag.String("jaeger-endpoint", "", "Jaeger collector endpoint; tracing disabled when empty")
	logLevel := flag.String("log-level", "info", "zap log level")
	flag.Parse()

	if *writeQuorum+*readQuorum <= *replicationN {
		log.Printf("WARNING: W(%d) + R(%d) <= N(%d); quorums no longer intersect and reads may miss the latest write", *writeQuorum, *readQuorum, *replicationN)
	}

	zapLog, err := logging.NewLogger(*logLevel, "json")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zapLog.Sync()

	if *jaegerEndpoint != "" {
		tp, err := tracing.InitTracer(fmt.Sprintf("shoplist-node-%s", *nodeID), *jaegerEndpoint)
		if err != nil {
			zapLog.Warn("tracing disabled: failed to init exporter")
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	clusterNodes := map[string]string{}
	if *peersFlag != "" {
		for _, entry := range strings.Split(*peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				log.Fatalf("invalid peer entry %q: expected id=http://host:port", entry)
			}
			clusterNodes[parts[0]] = parts[1]
		}
	}
	if _, ok := clusterNodes[*nodeID]; !ok {
		log.Fatalf("--peers must include this node's own id %q", *nodeID)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	store, err := storage.Open(filepath.Join(*dataDir, fmt.Sprintf("%s.db", *nodeID)))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()

	n, err := node.New(node.Options{
		SelfID:          *nodeID,
		CoordinatorAddr: *coordinatorAddr,
		ClusterNodes:    clusterNodes,
		Quorum:          config.QuorumConfig{N: *replicationN, R: *readQuorum, W: *writeQuorum},
		Store:           store,
		Log:             zapLog.Logger,
		Metrics:         metrics,
	})
	if err != nil {
		log.Fatalf("start node: %v", err)
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	go n.Run(runCtx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	n.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info(fmt.Sprintf("node %s listening on %s (N=%d W=%d R=%d)", *nodeID, *addr, *replicationN, *writeQuorum, *readQuorum))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("shutting down node", zap.String("id", *nodeID))
	stopRun()
	n.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
