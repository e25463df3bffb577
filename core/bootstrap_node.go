package core

// bootstrap_node.go bundles a Node with an optional Replicator to help new
// peers join the network (spec §4.5's "first contact" flow: listen, dial
// seeds, then serve/request blocks on demand). The blockchain ledger itself
// is out of scope (spec §1); callers supply a BlockReader implementation.

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// BootstrapNode wraps networking with optional replication behind the
// BaseNode/NodeInterface seam used by the rest of the codebase.
type BootstrapNode struct {
	*BaseNode
	node *Node
	pm   *PeerManagement
	rep  *Replicator

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// BootstrapConfig aggregates the required configuration sections.
type BootstrapConfig struct {
	Network     Config
	Replication *ReplicationConfig
}

// NewBootstrapNode initializes networking and, if configured, the
// replication service, against bc as the block store. It returns a node
// ready to be started.
func NewBootstrapNode(cfg *BootstrapConfig, bc BlockReader) (*BootstrapNode, error) {
	ctx, cancel := context.WithCancel(context.Background())
	n, err := NewNode(cfg.Network, bc)
	if err != nil {
		cancel()
		return nil, err
	}

	pm := NewPeerManagement(n)

	var rep *Replicator
	if cfg.Replication != nil && bc != nil {
		rep = NewReplicator(cfg.Replication, logrus.StandardLogger(), bc, pm)
	}

	base := NewBaseNode(&NodeAdapter{n})
	return &BootstrapNode{BaseNode: base, node: n, pm: pm, rep: rep, ctx: ctx, cancel: cancel}, nil
}

// Start launches the bootstrap services. It is safe to call multiple times.
func (b *BootstrapNode) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rep != nil {
		b.rep.Start()
	}
	go b.ListenAndServe()
}

// Stop gracefully shuts down the node and replication service.
func (b *BootstrapNode) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rep != nil {
		b.rep.Stop()
	}
	b.cancel()
	return b.Close()
}

// PeerManager exposes the underlying PeerManager for integrations that need
// direct access (RPC status endpoints, CLI peer listing).
func (b *BootstrapNode) PeerManager() PeerManager { return b.pm }
