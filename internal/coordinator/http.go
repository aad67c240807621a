package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/model"
)

// Server wires a Hub onto the HTTP endpoints storage nodes and clients
// use: ingest for nodes' BROADCAST envelopes, events for clients' SSE
// subscriptions, and a health probe.
type Server struct {
	hub *Hub
	log *zap.Logger
}

// NewServer returns a Server over hub.
func NewServer(hub *Hub, log *zap.Logger) *Server {
	return &Server{hub: hub, log: log}
}

// Register mounts the coordinator's routes on router.
func (s *Server) Register(router *gin.Engine) {
	router.Use(zapLogger(s.log), recovery(s.log))
	router.GET("/api/health", s.handleHealth)
	router.GET("/api/events", s.handleEvents)
	router.POST("/internal/rpc", s.handleIngest)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now().UnixMilli()})
}

// handleIngest is the node-facing half of the request/reply channel: a
// node posts {type:"BROADCAST", event, data} here after a committed
// write, and the coordinator fans it out to every SSE subscriber.
func (s *Server) handleIngest(c *gin.Context) {
	var msg model.EnvelopeMsg
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, model.EnvelopeReply{Status: model.StatusError, Error: err.Error()})
		return
	}
	if msg.Type != model.MsgBroadcast {
		c.JSON(http.StatusBadRequest, model.EnvelopeReply{Status: model.StatusError, Error: "coordinator only accepts BROADCAST"})
		return
	}
	s.hub.Broadcast(msg.Event, msg.Data)
	c.JSON(http.StatusOK, model.EnvelopeReply{Status: model.StatusOK})
}

// handleEvents is the client-facing SSE endpoint: one long-lived
// connection per subscriber, named events written as they arrive plus a
// heartbeat comment line every SSEHeartbeatInterval so idle proxies don't
// time the connection out.
func (s *Server) handleEvents(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	id := uuid.NewString()
	ch := s.hub.subscribe(id)
	defer s.hub.unsubscribe(id)

	heartbeat := time.NewTicker(config.SSEHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev.data)
			if err != nil {
				s.log.Error("marshal sse event", zap.String("event", ev.name), zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.name, payload)
			flusher.Flush()
		}
	}
}
