package core

// peer_management.go implements PeerManager, the seam relay/replication code
// programs against instead of reaching into Node directly (spec §4.5/§6).
// Rewritten from the teacher's libp2p-pubsub-backed PeerManagement: Connect/
// Disconnect/Sample/Peers now drive the TCP Node/Peer stack directly, and
// SendAsync/Subscribe dispatch through the Message Registry instead of a
// libp2p protocol.ID stream or pubsub topic.

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PeerManagement implements PeerManager on top of a Node.
type PeerManagement struct {
	node *Node
	log  *logrus.Logger

	mu   sync.RWMutex
	subs map[string][]chan InboundMsg
}

// NewPeerManagement wraps an existing Node to expose peer management functions.
func NewPeerManagement(n *Node) *PeerManagement {
	pm := &PeerManagement{
		node: n,
		log:  n.log,
		subs: make(map[string][]chan InboundMsg),
	}
	n.SetInboundHook(pm.publish)
	return pm
}

// Peers implements PeerManager, returning a snapshot of every connected peer.
func (pm *PeerManagement) Peers() []PeerInfo {
	peers := pm.node.Peers()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		p.mu.Lock()
		info := PeerInfo{
			ID:        p.ID,
			Addr:      p.Addr,
			State:     p.State().String(),
			Inbound:   p.Inbound,
			RTT:       p.rtt,
			Height:    p.height,
			UserAgent: p.userAgent,
			Updated:   time.Now().Unix(),
		}
		p.mu.Unlock()
		infos = append(infos, info)
	}
	return infos
}

// Connect dials addr and adopts it as an outbound peer.
func (pm *PeerManagement) Connect(addr string) error { return pm.node.Connect(addr) }

// Disconnect closes and forgets the peer with the given ID.
func (pm *PeerManagement) Disconnect(id NodeID) error { return pm.node.Disconnect(id) }

// Sample returns up to n peer IDs chosen at random, used by the replicator's
// gossip fan-out (spec §4.5's sqrt(N) relay strategy).
func (pm *PeerManagement) Sample(n int) []string {
	peers := pm.node.Peers()
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, string(p.ID))
	}
	if n >= len(ids) {
		return ids
	}
	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := randInt(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

// SendAsync queues an already-serialized payload under command for delivery
// to one peer, identified by NodeID. The caller serializes the message;
// SendAsync does not check command against the registry and only hands the
// payload to the peer's transport for framing.
func (pm *PeerManagement) SendAsync(peerID, command string, payload []byte) error {
	pm.node.peerLock.RLock()
	p, ok := pm.node.peers[NodeID(peerID)]
	pm.node.peerLock.RUnlock()
	if !ok {
		return fmt.Errorf("peer_management: unknown peer %q", peerID)
	}
	if p.transport == nil {
		return fmt.Errorf("peer_management: peer %q has no transport yet", peerID)
	}
	return p.transport.Send(command, payload)
}

// Subscribe returns a channel of InboundMsg for every frame seen bearing the
// given command, across all peers. Unlike the teacher's per-topic libp2p
// subscription, this taps the shared dispatch path: every Peer.OnMessage
// that matches command also fans out to subscribers registered here.
func (pm *PeerManagement) Subscribe(command string) <-chan InboundMsg {
	ch := make(chan InboundMsg, 64)
	pm.mu.Lock()
	pm.subs[command] = append(pm.subs[command], ch)
	pm.mu.Unlock()
	return ch
}

// Unsubscribe closes and removes every channel registered for command.
func (pm *PeerManagement) Unsubscribe(command string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, ch := range pm.subs[command] {
		close(ch)
	}
	delete(pm.subs, command)
}

// publish fans a decoded frame out to any Subscribe(command) listeners. Called
// from Peer.OnMessage so PeerManager subscribers observe the same traffic the
// protocol FSM does, without duplicating the read loop.
func (pm *PeerManagement) publish(peerID NodeID, command string, payload []byte) {
	pm.mu.RLock()
	chans := append([]chan InboundMsg(nil), pm.subs[command]...)
	pm.mu.RUnlock()
	if len(chans) == 0 {
		return
	}
	msg := InboundMsg{PeerID: string(peerID), Command: command, Payload: payload, Ts: time.Now().UnixMilli()}
	for _, ch := range chans {
		select {
		case ch <- msg:
		default:
			pm.log.Debugf("peer_management: subscriber for %s backpressured, dropping", command)
		}
	}
}

// Ensure PeerManagement implements PeerManager.
var _ PeerManager = (*PeerManagement)(nil)
