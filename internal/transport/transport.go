// Package transport implements the node request channel (C7): a
// point-to-point request/reply link between any two storage nodes with a
// timeout and a Lazy-Pirate retry policy — on timeout the connection is
// torn down and rebuilt before the next attempt, up to R_max tries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/knirvcorp/shoplist/internal/config"
	"github.com/knirvcorp/shoplist/internal/model"
)

// Peer is a single-in-flight request/reply channel to one remote node.
// The underlying transport is strict request/reply, so callers must
// serialize on mu — exactly the contract a ZeroMQ REQ socket would
// enforce, here realized over HTTP keep-alive connections.
type Peer struct {
	mu      sync.Mutex
	addr    string // e.g. "http://127.0.0.1:8002"
	client  *http.Client
	retries int
}

// NewPeer returns a channel to the node listening at addr.
func NewPeer(addr string) *Peer {
	return &Peer{
		addr:   addr,
		client: newHTTPClient(),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: config.ReplicaCallTimeout}
}

// ErrTimeout is returned when every Lazy-Pirate attempt times out.
var ErrTimeout = fmt.Errorf("transport: peer request timed out after retries")

// Send delivers msg to the peer's /internal/rpc endpoint and returns its
// reply. On a timeout the client's idle connection is torn down and a
// fresh one opened before the next attempt — the "close and reopen" step
// of Lazy-Pirate — up to LazyPirateMaxRetries attempts. The first attempt
// uses ReplicaCallTimeout; every retry after it uses the shorter
// LazyPirateRetryTimeout, so a node that is actually down fails fast on
// the attempts it was already unlikely to need.
func (p *Peer) Send(ctx context.Context, msg model.EnvelopeMsg) (model.EnvelopeReply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		return model.EnvelopeReply{}, fmt.Errorf("encode envelope: %w", err)
	}

	var lastErr error
	timeouts := 0
	for attempt := 0; attempt < config.LazyPirateMaxRetries; attempt++ {
		timeout := config.ReplicaCallTimeout
		if attempt > 0 {
			timeout = config.LazyPirateRetryTimeout
		}
		reply, err := p.attempt(ctx, body, timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			timeouts++
		}
		p.reopen()
	}
	if lastErr == nil || timeouts == config.LazyPirateMaxRetries {
		lastErr = ErrTimeout
	}
	return model.EnvelopeReply{}, fmt.Errorf("peer %s: %w", p.addr, lastErr)
}

func (p *Peer) attempt(ctx context.Context, body []byte, timeout time.Duration) (model.EnvelopeReply, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.addr+"/internal/rpc", bytes.NewReader(body))
	if err != nil {
		return model.EnvelopeReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.EnvelopeReply{}, err
	}
	defer resp.Body.Close()

	var reply model.EnvelopeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return model.EnvelopeReply{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Status == model.StatusError {
		return reply, fmt.Errorf("peer error: %s", reply.Error)
	}
	return reply, nil
}

// reopen discards the peer's keep-alive connection pool and allocates a
// fresh client, standing in for closing and reopening a REQ socket.
// Caller must hold p.mu.
func (p *Peer) reopen() {
	p.client.CloseIdleConnections()
	p.client = newHTTPClient()
	p.retries++
}

// Registry is the set of peer channels a node holds open, one per remote
// node address.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewRegistry returns an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Peer returns the channel for addr, creating it on first use.
func (r *Registry) Peer(addr string) *Peer {
	r.mu.RLock()
	p, ok := r.peers[addr]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[addr]; ok {
		return p
	}
	p = NewPeer(addr)
	r.peers[addr] = p
	return p
}

// WaitTimeout is a small helper so callers can bound a context with the
// default quorum fan-out timeout without importing config directly.
func WaitTimeout() time.Duration {
	return config.ReplicaCallTimeout
}
