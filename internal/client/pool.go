package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knirvcorp/shoplist/internal/config"
)

// serverEntry is one storage node's base URL plus its health state as
// observed by this client.
type serverEntry struct {
	addr    string
	healthy bool
}

// Pool is a round-robin server pool over the cluster's storage nodes, with
// per-node failure tracking and periodic health-check rehabilitation —
// the client-side half of §4.11's "server pool" contract.
type Pool struct {
	mu      sync.Mutex
	servers []*serverEntry
	current int

	httpClient *http.Client
	log        *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPool returns a Pool over addrs, all initially marked healthy.
func NewPool(addrs []string, log *zap.Logger) *Pool {
	servers := make([]*serverEntry, 0, len(addrs))
	for _, a := range addrs {
		servers = append(servers, &serverEntry{addr: a, healthy: true})
	}
	p := &Pool{
		servers:    servers,
		httpClient: &http.Client{Timeout: config.ReplicaCallTimeout},
		log:        log,
		stopCh:     make(chan struct{}),
	}
	go p.healthCheckLoop()
	return p
}

// Next returns the next server in round-robin order among the healthy
// ones, falling back to the full list if every server is marked failed —
// a network partition that takes out every node shouldn't also stop the
// client from trying.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	healthy := p.healthyLocked()
	pool := healthy
	if len(pool) == 0 {
		pool = p.servers
	}
	if len(pool) == 0 {
		return ""
	}

	entry := pool[p.current%len(pool)]
	p.current++
	return entry.addr
}

func (p *Pool) healthyLocked() []*serverEntry {
	out := make([]*serverEntry, 0, len(p.servers))
	for _, s := range p.servers {
		if s.healthy {
			out = append(out, s)
		}
	}
	return out
}

// MarkFailed flags addr as unhealthy after an I/O error, so Next stops
// routing to it until the health-check loop rehabilitates it.
func (p *Pool) MarkFailed(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.servers {
		if s.addr == addr {
			s.healthy = false
			return
		}
	}
}

// Addrs returns every server address currently in the pool, healthy or
// not. The sync loop does not use it: each of its requests goes to the
// next round-robin pick from Next.
func (p *Pool) Addrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.servers))
	for i, s := range p.servers {
		out[i] = s.addr
	}
	return out
}

// healthCheckLoop polls /api/health on every unhealthy server every
// ServerPoolHealthInterval and marks it healthy again on a 200 response.
func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(config.ServerPoolHealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.performHealthChecks()
		}
	}
}

func (p *Pool) performHealthChecks() {
	p.mu.Lock()
	unhealthy := make([]*serverEntry, 0)
	for _, s := range p.servers {
		if !s.healthy {
			unhealthy = append(unhealthy, s)
		}
	}
	p.mu.Unlock()

	for _, s := range unhealthy {
		ctx, cancel := context.WithTimeout(context.Background(), config.ReplicaCallTimeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.addr+"/api/health", nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := p.httpClient.Do(req)
		cancel()
		if err != nil || resp.StatusCode != http.StatusOK {
			if p.log != nil {
				p.log.Debug("server still unhealthy", zap.String("addr", s.addr))
			}
			if resp != nil {
				resp.Body.Close()
			}
			continue
		}
		resp.Body.Close()

		p.mu.Lock()
		s.healthy = true
		p.mu.Unlock()
		if p.log != nil {
			p.log.Info("server rehabilitated", zap.String("addr", s.addr))
		}
	}
}

// Stop ends the health-check loop. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
