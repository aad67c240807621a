// Package config loads the static per-cluster JSON configuration described
// in spec §6: the fixed server list, quorum parameters, and the timing
// defaults for hinted handoff, server-pool health checks, SSE health
// checks, and replica call timeouts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// QuorumConfig carries the replication factor and the read/write quorum
// sizes.
type QuorumConfig struct {
	N int `json:"N"`
	R int `json:"R"`
	W int `json:"W"`
}

// CoordinatorConfig carries the SSE fan-out coordinator's listen ports.
// ZMQPort is retained from the reference cluster layout even though this
// implementation's node request channel runs over HTTP, not ZeroMQ; it is
// accepted and ignored so existing cluster config files still parse.
type CoordinatorConfig struct {
	HTTPPort int `json:"httpPort"`
	ZMQPort  int `json:"zmqPort"`
}

// StorageConfig carries the port offset from the reference cluster layout.
// Like CoordinatorConfig.ZMQPort it is accepted and ignored: the node
// request channel shares each node's HTTP port.
type StorageConfig struct {
	ZMQPortOffset int `json:"zmqPortOffset"`
}

// Cluster is the full static configuration for one cluster process group.
type Cluster struct {
	NumServers  int               `json:"numServers"`
	Servers     []int             `json:"servers"`
	Quorum      QuorumConfig      `json:"quorum"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Storage     StorageConfig     `json:"storage"`
}

// Timing defaults from §6, not persisted in the cluster JSON but fixed
// operational constants.
const (
	HintedHandoffFlushInterval = 30 * time.Second
	ServerPoolHealthInterval   = 10 * time.Second
	SSEHealthInterval          = 5 * time.Second
	ReplicaCallTimeout         = 1 * time.Second
	LazyPirateRetryTimeout     = 500 * time.Millisecond
	LazyPirateMaxRetries       = 3
	SSEHeartbeatInterval       = 30 * time.Second

	// Client sync loop exponential backoff (§4.11 step 5): base delay,
	// per-attempt growth factor, and the number of attempts before the
	// loop gives up and waits for the next trigger instead.
	SyncBackoffBase      = 500 * time.Millisecond
	SyncBackoffFactor    = 2
	SyncMaxAttempts      = 5
	SSEReconnectDelay    = 2 * time.Second
	SyncFallbackInterval = 30 * time.Second
)

// Default returns the §6 reference 5-node cluster: N=3, R=2, W=2.
func Default() Cluster {
	return Cluster{
		NumServers: 5,
		Servers:    []int{8001, 8002, 8003, 8004, 8005},
		Quorum:     QuorumConfig{N: 3, R: 2, W: 2},
		Coordinator: CoordinatorConfig{
			HTTPPort: 9000,
			ZMQPort:  9001,
		},
		Storage: StorageConfig{ZMQPortOffset: 1000},
	}
}

// Load reads and parses a cluster configuration file.
func Load(path string) (Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Cluster{}, fmt.Errorf("read cluster config: %w", err)
	}
	var c Cluster
	if err := json.Unmarshal(data, &c); err != nil {
		return Cluster{}, fmt.Errorf("parse cluster config: %w", err)
	}
	return c, nil
}

// Validate checks the quorum invariant and returns whether the
// configuration should log a warning (R+W<=N is accepted but degrades
// consistency guarantees per §4.8).
func (c Cluster) Validate() (warn bool, err error) {
	if c.Quorum.N <= 0 {
		return false, fmt.Errorf("quorum.N must be positive, got %d", c.Quorum.N)
	}
	if c.Quorum.R <= 0 || c.Quorum.W <= 0 {
		return false, fmt.Errorf("quorum.R and quorum.W must be positive")
	}
	if c.Quorum.R+c.Quorum.W <= c.Quorum.N {
		return true, nil
	}
	return false, nil
}
