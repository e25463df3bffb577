package core

// peer.go implements the Peer & Node Protocol FSM of spec §4.5: the
// version/verack handshake, ping/pong liveness, getaddr/addr exchange,
// inv/getdata/tx/block relay, headers/getheaders/getblocks, reject
// handling, self-connect detection via nonce, and the simultaneous-connect
// tie-break.
//
// Adapted from core/replication.go's Replicator (its msgInv/msgGetData/
// msgBlock handling and Bytes.Short()-style hex logging) and
// core/peer_management.go's Connect/Disconnect/Sample, re-expressed against
// the Message Registry/Transport stack instead of JSON+libp2p-pubsub.

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

type PeerState int32

const (
	PeerNew PeerState = iota
	PeerSentVersion
	PeerGotVersion
	PeerReady // GOT_VERACK
	PeerClosing
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "NEW"
	case PeerSentVersion:
		return "SENT_VERSION"
	case PeerGotVersion:
		return "GOT_VERSION"
	case PeerReady:
		return "READY"
	case PeerClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

const (
	pingInterval    = 2 * time.Minute
	pongTimeout     = 30 * time.Second
	maxFetchOutbox  = 512
	relayFanoutBase = 3
)

// Peer drives one remote connection's protocol FSM on top of a Transport.
type Peer struct {
	ID      NodeID
	Addr    string
	Inbound bool

	node      *Node
	conn      *Connection
	transport *Transport
	log       *logrus.Logger

	state int32 // atomic PeerState

	mu          sync.Mutex
	nonce       uint64
	remoteNonce uint64
	userAgent   string
	height      int32
	sentVersion bool
	gotVersion  bool
	gotVerAck   bool
	pingNonce   uint64
	pingSentAt  time.Time
	rtt         time.Duration

	seenInv         *lru.Cache[Hash, struct{}]
	pendingBlockTxn *lru.Cache[Hash, []uint64]
}

func newPeer(n *Node, conn *Connection, inbound bool) *Peer {
	seen, _ := lru.New[Hash, struct{}](4096)
	pending, _ := lru.New[Hash, []uint64](256)
	p := &Peer{
		ID:              NodeID(conn.RemoteAddr()),
		Addr:            conn.RemoteAddr(),
		Inbound:         inbound,
		node:            n,
		conn:            conn,
		log:             n.log,
		seenInv:         seen,
		pendingBlockTxn: pending,
	}
	atomic.StoreInt32(&p.state, int32(PeerNew))
	return p
}

func (p *Peer) State() PeerState { return PeerState(atomic.LoadInt32(&p.state)) }
func (p *Peer) setState(s PeerState) { atomic.StoreInt32(&p.state, int32(s)) }

// start wires the Transport and kicks off the handshake by sending our
// version message immediately, as both inbound and outbound peers do in the
// Bitcoin wire protocol (spec §4.5).
func (p *Peer) start() {
	p.transport = NewTransport(p.conn, p.magic(), p, p.node.sched, p.log, p.node.health, p.node.fw, 1024)
	p.transport.Start()
	p.sendVersion()
	p.node.sched.After(p.node.handshakeTimeout(), func(ctx context.Context) {
		if p.State() != PeerReady {
			p.close(fmt.Errorf("peer: handshake timeout"))
		}
	})
	p.schedulePing()
}

func (p *Peer) magic() uint32 {
	if p.node.cfg.Network.Magic != 0 {
		return p.node.cfg.Network.Magic
	}
	return DefaultMagic
}

func (p *Peer) sendVersion() {
	nonce, _ := randomNonce()
	p.mu.Lock()
	p.nonce = nonce
	p.sentVersion = true
	p.mu.Unlock()
	p.node.seenNonces.Add(nonce, struct{}{})

	v := &MsgVersion{
		ProtocolVersion: p.node.cfg.Network.ProtocolVersion,
		Services:        0,
		Timestamp:       time.Now().Unix(),
		Nonce:           nonce,
		UserAgent:       p.node.cfg.Network.UserAgent,
		StartHeight:     p.localHeight(),
		Relay:           true,
	}
	p.sendMsg(v)
	p.setState(PeerSentVersion)
}

func (p *Peer) localHeight() int32 {
	if p.node.bc == nil {
		return 0
	}
	return int32(p.node.bc.LastHeight())
}

func (p *Peer) sendMsg(m Message) {
	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		p.log.Warnf("serialize %s to %s: %v", m.Command(), p.Addr, err)
		return
	}
	if err := p.transport.Send(m.Command(), buf.Bytes()); err != nil {
		p.log.Debugf("send %s to %s backpressured: %v", m.Command(), p.Addr, err)
	}
}

//---------------------------------------------------------------------
// Dispatcher implementation (called from Transport's read loop)
//---------------------------------------------------------------------

func (p *Peer) OnMessage(command string, msg Message, payload []byte) error {
	if p.node.inboundHook != nil {
		p.node.inboundHook(p.ID, command, payload)
	}
	if p.State() != PeerReady && command != CmdVersion && command != CmdVerAck {
		return protoErr("frame %q before handshake completion from %s", command, p.Addr)
	}
	switch m := msg.(type) {
	case *MsgVersion:
		return p.onVersion(m)
	case *MsgVerAck:
		return p.onVerAck()
	case *MsgPing:
		return p.onPing(m)
	case *MsgPong:
		return p.onPong(m)
	case *MsgGetAddr:
		return p.onGetAddr()
	case *MsgAddr:
		return p.onAddr(m)
	case *MsgInv:
		return p.onInv(m)
	case *MsgGetData:
		return p.onGetData(m)
	case *MsgNotFound:
		return nil // advisory; nothing pending to reconcile in this simplified node
	case *MsgTx:
		return p.onTx(m)
	case *MsgBlock:
		return p.onBlock(m)
	case *MsgHeaders:
		return nil // accepted, not validated: header-chain validation is out of scope
	case *MsgGetHeaders:
		return p.onGetHeaders(m)
	case *MsgGetBlocks:
		return p.onGetBlocks(m)
	case *MsgMemPool:
		return nil // mempool policy out of scope; no transactions are announced back
	case *MsgFeeFilter, *MsgSendHeaders, *MsgSendCmpct, *MsgFilterLoad, *MsgFilterAdd, *MsgFilterClear:
		return nil // accepted and stored nowhere: policy/filter enforcement out of scope
	case *MsgCmpctBlock:
		return p.onCmpctBlock(m)
	case *MsgGetBlockTxn:
		return p.onGetBlockTxn(m)
	case *MsgBlockTxn:
		return p.onBlockTxn(m)
	case *MsgMerkleBlock:
		return nil
	case *MsgReject:
		p.log.Infof("peer %s rejected %s: code=%x reason=%s", p.Addr, m.CmdRejected, m.Code, m.Reason)
		return nil
	default:
		return nil
	}
}

func (p *Peer) OnUnknownCommand(command string) {
	p.log.WithField("peer", p.Addr).Debugf("unknown command %q", command)
}

func (p *Peer) OnHandshakeComplete() error { return nil }

func (p *Peer) OnClose(reason error) {
	p.setState(PeerClosing)
	p.node.removePeer(p.ID)
	if reason != nil {
		p.log.Infof("peer %s closed: %v", p.Addr, reason)
	}
}

func (p *Peer) close(reason error) {
	if p.transport != nil {
		p.transport.closeWith(reason)
	}
}

//---------------------------------------------------------------------
// Handshake
//---------------------------------------------------------------------

func (p *Peer) onVersion(v *MsgVersion) error {
	p.mu.Lock()
	dupVersion := p.gotVersion
	p.mu.Unlock()
	if dupVersion {
		return protoErr("duplicate version on session with %s", p.Addr)
	}

	if _, selfConnect := p.node.seenNonces.Get(v.Nonce); selfConnect {
		return fmt.Errorf("peer: self-connect detected (nonce %x)", v.Nonce)
	}

	p.mu.Lock()
	p.remoteNonce = v.Nonce
	p.userAgent = v.UserAgent
	p.height = v.StartHeight
	p.gotVersion = true
	alreadySentVersion := p.sentVersion
	p.mu.Unlock()

	if !alreadySentVersion {
		p.sendVersion()
	}
	p.sendMsg(&MsgVerAck{})
	p.setState(PeerGotVersion)

	// Simultaneous-connect tie-break (spec §4.5): if both sides dialed each
	// other at once, two Peer objects for the same remote may exist. Keep the
	// connection whose (remote addr, remote port) pair sorts lower and close
	// the other.
	p.node.peerLock.RLock()
	var dup *Peer
	for id, other := range p.node.peers {
		if other != p && id != p.ID && other.Addr == p.Addr {
			dup = other
			break
		}
	}
	p.node.peerLock.RUnlock()
	if dup != nil {
		if p.ID > dup.ID {
			return fmt.Errorf("peer: simultaneous-connect tie-break, dropping higher-keyed duplicate")
		}
		dup.close(fmt.Errorf("peer: simultaneous-connect tie-break"))
	}
	return nil
}

func (p *Peer) onVerAck() error {
	p.mu.Lock()
	p.gotVerAck = true
	p.mu.Unlock()
	p.setState(PeerReady)
	if p.node.health != nil {
		p.node.health.LogStructured(logrus.InfoLevel, "peer ready", NewSObject(map[string]SVal{
			"peer_id":    NewSString(string(p.ID)),
			"addr":       NewSString(p.Addr),
			"inbound":    NewSBool(p.Inbound),
			"user_agent": NewSString(p.userAgent),
			"height":     NewSInt(int64(p.height)),
		}))
	}
	return nil
}

//---------------------------------------------------------------------
// Liveness
//---------------------------------------------------------------------

func (p *Peer) schedulePing() {
	p.node.sched.After(pingInterval, func(ctx context.Context) {
		if p.State() == PeerClosing {
			return
		}
		nonce, _ := randomNonce()
		p.mu.Lock()
		p.pingNonce = nonce
		p.pingSentAt = time.Now()
		p.mu.Unlock()
		p.sendMsg(&MsgPing{Nonce: nonce})
		p.node.sched.After(pongTimeout, func(ctx context.Context) {
			p.mu.Lock()
			stale := p.pingNonce == nonce
			p.mu.Unlock()
			if stale {
				p.close(fmt.Errorf("peer: pong timeout"))
			}
		})
		p.schedulePing()
	})
}

func (p *Peer) onPing(m *MsgPing) error {
	p.sendMsg(&MsgPong{Nonce: m.Nonce})
	return nil
}

func (p *Peer) onPong(m *MsgPong) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Nonce != p.pingNonce {
		return nil // stale or spoofed pong; ignore rather than penalize
	}
	p.rtt = time.Since(p.pingSentAt)
	p.pingNonce = 0
	return nil
}

//---------------------------------------------------------------------
// Address exchange
//---------------------------------------------------------------------

func (p *Peer) onGetAddr() error {
	samples := p.node.addrBook.Sample(MaxAddrEntries, time.Now().Unix())
	entries := make([]addrEntry, 0, len(samples))
	now := uint32(time.Now().Unix())
	for _, a := range samples {
		entries = append(entries, addrEntry{Timestamp: now, Addr: a})
	}
	p.sendMsg(&MsgAddr{Addrs: entries})
	return nil
}

func (p *Peer) onAddr(m *MsgAddr) error {
	now := time.Now().Unix()
	for _, e := range m.Addrs {
		key := fmt.Sprintf("%s:%d", e.Addr.IP, e.Addr.Port)
		if int64(e.Timestamp) > 0 && now-int64(e.Timestamp) > AddrMaxAgeSeconds {
			continue
		}
		p.node.addrBook.Add(key, e.Addr, e.Addr.Services, now)
	}
	return nil
}

//---------------------------------------------------------------------
// Inventory relay: inv -> getdata -> tx/block
//---------------------------------------------------------------------

func (p *Peer) haveLocally(v InvVect) bool {
	if p.node.bc == nil {
		return false
	}
	if v.Type == InvBlock {
		return p.node.bc.HasBlock(v.Hash)
	}
	return false
}

func (p *Peer) onInv(m *MsgInv) error {
	var want []InvVect
	for _, v := range m.Items {
		if _, seen := p.seenInv.Get(v.Hash); seen {
			continue
		}
		p.seenInv.Add(v.Hash, struct{}{})
		if !p.haveLocally(v) {
			want = append(want, v)
			if len(want) >= maxFetchOutbox {
				break
			}
		}
	}
	if len(want) > 0 {
		p.sendMsg(&MsgGetData{invList: invList{Items: want}})
	}
	return nil
}

func (p *Peer) onGetData(m *MsgGetData) error {
	var missing []InvVect
	for _, v := range m.Items {
		switch v.Type {
		case InvBlock:
			if p.node.bc == nil {
				missing = append(missing, v)
				continue
			}
			b, err := p.node.bc.BlockByHash(v.Hash)
			if err != nil {
				missing = append(missing, v)
				continue
			}
			p.sendMsg(&MsgBlock{Block: *b})
		default:
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		p.sendMsg(&MsgNotFound{invList: invList{Items: missing}})
	}
	return nil
}

func (p *Peer) onTx(m *MsgTx) error {
	h := m.Tx.Hash()
	p.seenInv.Add(h, struct{}{})
	p.relayInv(InvVect{Type: InvTx, Hash: h})
	return nil
}

func (p *Peer) onBlock(m *MsgBlock) error {
	if p.node.bc != nil {
		if err := p.node.bc.ImportBlock(&m.Block); err != nil {
			return fmt.Errorf("peer: import block from %s: %w", p.Addr, err)
		}
	}
	h := m.Block.Hash()
	p.seenInv.Add(h, struct{}{})
	p.relayInv(InvVect{Type: InvBlock, Hash: h})
	return nil
}

// relayInv gossips an inventory announcement to a sqrt(N)-ish fan-out of
// other connected peers, mirroring the teacher's replication.go fanout
// strategy rather than flooding every peer.
func (p *Peer) relayInv(v InvVect) {
	peers := p.node.Peers()
	fanout := relayFanoutBase
	if n := len(peers); n > fanout*fanout {
		fanout = isqrt(n)
	}
	sample := samplePeers(peers, fanout, p.ID)
	for _, other := range sample {
		other.sendMsg(&MsgInv{invList: invList{Items: []InvVect{v}}})
	}
}

func isqrt(n int) int {
	if n <= 1 {
		return n
	}
	x := n
	for {
		y := (x + n/x) / 2
		if y >= x {
			return x
		}
		x = y
	}
}

func samplePeers(peers []*Peer, n int, exclude NodeID) []*Peer {
	candidates := make([]*Peer, 0, len(peers))
	for _, pr := range peers {
		if pr.ID != exclude {
			candidates = append(candidates, pr)
		}
	}
	if n >= len(candidates) {
		return candidates
	}
	shuffled := make([]*Peer, len(candidates))
	copy(shuffled, candidates)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := randInt(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func randInt(n int) int {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return int(binary.LittleEndian.Uint64(buf[:]) % uint64(n))
}

//---------------------------------------------------------------------
// headers/getheaders/getblocks
//---------------------------------------------------------------------

func (p *Peer) onGetHeaders(m *MsgGetHeaders) error {
	if p.node.bc == nil || len(m.Locator) == 0 {
		p.sendMsg(&MsgHeaders{})
		return nil
	}
	start, ok := p.locateStart(m.Locator)
	if !ok {
		p.sendMsg(&MsgHeaders{})
		return nil
	}
	headers := make([]BlockHeader, 0, MaxHeaders)
	for h := start; h < start+MaxHeaders; h++ {
		b, err := p.node.bc.GetBlock(h)
		if err != nil {
			break
		}
		headers = append(headers, b.Header)
		if b.Header.Hash() == m.HashStop {
			break
		}
	}
	p.sendMsg(&MsgHeaders{Headers: headers})
	return nil
}

func (p *Peer) onGetBlocks(m *MsgGetBlocks) error {
	if p.node.bc == nil || len(m.Locator) == 0 {
		return nil
	}
	start, ok := p.locateStart(m.Locator)
	if !ok {
		return nil
	}
	items := make([]InvVect, 0, MaxBlocksPerGetBlocks)
	for h := start; h < start+MaxBlocksPerGetBlocks; h++ {
		b, err := p.node.bc.GetBlock(h)
		if err != nil {
			break
		}
		items = append(items, InvVect{Type: InvBlock, Hash: b.Hash()})
		if b.Hash() == m.HashStop {
			break
		}
	}
	if len(items) > 0 {
		p.sendMsg(&MsgInv{invList: invList{Items: items}})
	}
	return nil
}

// locateStart finds the height immediately after the first locator hash
// present in the local chain, a simplified block-locator walk (full
// fork-aware locator resolution belongs to the out-of-scope consensus
// layer; this node just needs "a" continuation point, per spec §4.5).
// BlockReader exposes no hash->height index, so this walks down from the
// chain tip comparing against the locator set.
func (p *Peer) locateStart(locator []Hash) (uint64, bool) {
	want := make(map[Hash]struct{}, len(locator))
	for _, h := range locator {
		want[h] = struct{}{}
	}
	last := p.node.bc.LastHeight()
	for h := last; ; h-- {
		b, err := p.node.bc.GetBlock(h)
		if err == nil {
			if _, ok := want[b.Hash()]; ok {
				return h + 1, true
			}
		}
		if h == 0 {
			break
		}
	}
	return 0, false
}

//---------------------------------------------------------------------
// Compact blocks (per SPEC_FULL.md's Open Question decisions: no short-ID
// reconstruction; blocktxn responses correlated by block hash).
//---------------------------------------------------------------------

func (p *Peer) onCmpctBlock(m *MsgCmpctBlock) error {
	have := map[uint64]bool{}
	for _, idx := range m.PrefilledTxIndexes {
		have[idx] = true
	}
	var missing []uint64
	// Without short-ID reconstruction this simplified node cannot determine
	// the full transaction set from short IDs alone, and the message carries
	// no transaction count: it requests each index in 0..len(prefilled) that
	// is not prefilled, and no index beyond that range.
	for i := uint64(0); i < uint64(len(m.PrefilledTxIndexes))+1; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	h := m.Header.Hash()
	p.pendingBlockTxn.Add(h, missing)
	p.sendMsg(&MsgGetBlockTxn{BlockHash: h, Indexes: missing})
	return nil
}

func (p *Peer) onGetBlockTxn(m *MsgGetBlockTxn) error {
	if p.node.bc == nil {
		p.sendMsg(&MsgNotFound{invList: invList{Items: []InvVect{{Type: InvBlock, Hash: m.BlockHash}}}})
		return nil
	}
	b, err := p.node.bc.BlockByHash(m.BlockHash)
	if err != nil {
		p.sendMsg(&MsgNotFound{invList: invList{Items: []InvVect{{Type: InvBlock, Hash: m.BlockHash}}}})
		return nil
	}
	txs := make([][]byte, 0, len(m.Indexes))
	for _, idx := range m.Indexes {
		if idx < uint64(len(b.Transactions)) {
			txs = append(txs, b.Transactions[idx])
		}
	}
	p.sendMsg(&MsgBlockTxn{BlockHash: m.BlockHash, Txs: txs})
	return nil
}

func (p *Peer) onBlockTxn(m *MsgBlockTxn) error {
	_, ok := p.pendingBlockTxn.Get(m.BlockHash)
	if !ok {
		p.log.Debugf("peer %s: unmatched blocktxn for %s, dropping", p.Addr, m.BlockHash)
		return nil
	}
	p.pendingBlockTxn.Remove(m.BlockHash)
	// Reassembly into a full block is left to the blockchain hook; this
	// package only correlates the response to its request.
	return nil
}
