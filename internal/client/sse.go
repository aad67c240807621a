package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/crdt"
)

// consumeEvents holds a long-lived subscription to the coordinator's SSE
// stream, reconnecting on its own timer whenever the stream drops.
func (e *Engine) consumeEvents() {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if err := e.streamOnce(); err != nil && e.log != nil {
			e.log.Warn("sse stream ended", zap.Error(err))
		}

		select {
		case <-e.stopCh:
			return
		case <-time.After(config.SSEReconnectDelay):
		}
	}
}

// streamOnce opens one connection to /api/events and reads frames until
// the connection drops or the stream's own 5s health-check probe decides
// the coordinator has gone dark.
func (e *Engine) streamOnce() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.coordinatorAddr+"/api/events", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	watchDone := make(chan struct{})
	go e.watchCoordinatorHealth(ctx, watchDone, cancel)
	defer close(watchDone)

	var eventName string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// heartbeat comment, no data
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			e.handleEvent(eventName, strings.TrimPrefix(line, "data: "))
		case line == "":
			eventName = ""
		}
	}
	return scanner.Err()
}

// watchCoordinatorHealth polls /api/health independently of the event
// stream itself; a single failed probe cancels the stream's context so
// consumeEvents' reconnection timer takes over immediately instead of
// waiting on a dead TCP connection to time out on its own.
func (e *Engine) watchCoordinatorHealth(ctx context.Context, done chan struct{}, cancel context.CancelFunc) {
	ticker := time.NewTicker(config.SSEHealthInterval)
	defer ticker.Stop()
	client := &http.Client{Timeout: config.ReplicaCallTimeout}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.coordinatorAddr+"/api/health", nil)
			if err != nil {
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				cancel()
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				cancel()
				return
			}
		}
	}
}

// handleEvent applies one named SSE frame to local state.
func (e *Engine) handleEvent(name, data string) {
	switch name {
	case "list-created":
		var snap crdt.ListSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return
		}
		e.mergeIncomingList(name, snap)
	case "list-deleted":
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return
		}
		e.forgetList(body.ID)
	case "item-added", "item-toggled", "item-quantity-updated", "item-name-updated", "item-updated":
		var snap crdt.ItemSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return
		}
		e.mergeIncomingItem(name, snap)
	case "item-removed":
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return
		}
		e.forgetItem(body.ID)
	}
}
