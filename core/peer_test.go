package core

import (
	"bytes"
	"fmt"
	"net"
	"testing"
)

type fakeBlockReader struct {
	blocks map[uint64]*Block
	last   uint64
}

func newFakeBlockReader(n uint64) *fakeBlockReader {
	f := &fakeBlockReader{blocks: make(map[uint64]*Block), last: n}
	for h := uint64(0); h <= n; h++ {
		f.blocks[h] = &Block{Header: BlockHeader{Version: 1, Timestamp: uint32(h)}}
	}
	return f
}

func (f *fakeBlockReader) LastHeight() uint64 { return f.last }

func (f *fakeBlockReader) GetBlock(height uint64) (*Block, error) {
	b, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return b, nil
}

func (f *fakeBlockReader) HasBlock(hash Hash) bool {
	_, err := f.BlockByHash(hash)
	return err == nil
}

func (f *fakeBlockReader) BlockByHash(hash Hash) (*Block, error) {
	for _, b := range f.blocks {
		if b.Hash() == hash {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no block with hash %s", hash)
}

func (f *fakeBlockReader) DecodeBlockRLP(data []byte) (*Block, error) {
	return rlpDecodeBlockBytes(data)
}

func (f *fakeBlockReader) ImportBlock(b *Block) error {
	f.blocks[f.last+1] = b
	f.last++
	return nil
}

func newTestNode(t *testing.T, bc BlockReader) *Node {
	t.Helper()
	var cfg Config
	cfg.Network.ProtocolVersion = 70015
	cfg.Network.UserAgent = "/wirenode-test/"
	n, err := NewNode(cfg, bc)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func newTestPeerPair(t *testing.T, n *Node) (*Peer, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	p := newPeer(n, NewConnection(a, false), false)
	return p, b
}

func TestPeerStateString(t *testing.T) {
	cases := map[PeerState]string{
		PeerNew:         "NEW",
		PeerSentVersion: "SENT_VERSION",
		PeerGotVersion:  "GOT_VERSION",
		PeerReady:       "READY",
		PeerClosing:     "CLOSING",
		PeerState(99):   "UNKNOWN",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("state %d: want %q got %q", s, want, got)
		}
	}
}

func TestPeerSelfConnectDetection(t *testing.T) {
	n := newTestNode(t, nil)
	p, _ := newTestPeerPair(t, n)

	const nonce = uint64(0xabc123)
	n.seenNonces.Add(nonce, struct{}{})

	err := p.onVersion(&MsgVersion{Nonce: nonce, UserAgent: "/x/"})
	if err == nil {
		t.Fatalf("expected self-connect error")
	}
}

func TestPeerHandshakeTransitionsToReady(t *testing.T) {
	n := newTestNode(t, nil)
	p, _ := newTestPeerPair(t, n)

	if p.State() != PeerNew {
		t.Fatalf("expected initial state NEW, got %v", p.State())
	}

	if err := p.onVersion(&MsgVersion{Nonce: 0x1111, UserAgent: "/remote/", StartHeight: 7}); err != nil {
		t.Fatalf("onVersion: %v", err)
	}
	if p.State() != PeerGotVersion {
		t.Fatalf("expected GOT_VERSION, got %v", p.State())
	}

	if err := p.onVerAck(); err != nil {
		t.Fatalf("onVerAck: %v", err)
	}
	if p.State() != PeerReady {
		t.Fatalf("expected READY, got %v", p.State())
	}
}

func TestPeerDuplicateVersionIsProtocolError(t *testing.T) {
	n := newTestNode(t, nil)
	p, _ := newTestPeerPair(t, n)

	if err := p.onVersion(&MsgVersion{Nonce: 0x2222, UserAgent: "/remote/", StartHeight: 1}); err != nil {
		t.Fatalf("first onVersion: %v", err)
	}

	err := p.onVersion(&MsgVersion{Nonce: 0x2222, UserAgent: "/remote/", StartHeight: 1})
	if err == nil {
		t.Fatalf("expected duplicate version to be a protocol error")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestOnMessageRejectsFrameBeforeHandshake(t *testing.T) {
	n := newTestNode(t, nil)
	p, _ := newTestPeerPair(t, n)

	if p.State() == PeerReady {
		t.Fatalf("precondition: peer should not start READY")
	}

	err := p.OnMessage(CmdPing, &MsgPing{Nonce: 1}, nil)
	if err == nil {
		t.Fatalf("expected pre-handshake frame to be a protocol error")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestOnMessageAllowsVersionAndVerAckBeforeHandshake(t *testing.T) {
	n := newTestNode(t, nil)
	p, _ := newTestPeerPair(t, n)

	if err := p.OnMessage(CmdVersion, &MsgVersion{Nonce: 0x3333, UserAgent: "/remote/"}, nil); err != nil {
		t.Fatalf("version before handshake completion should be accepted: %v", err)
	}
	if err := p.OnMessage(CmdVerAck, &MsgVerAck{}, nil); err != nil {
		t.Fatalf("verack before handshake completion should be accepted: %v", err)
	}
	if p.State() != PeerReady {
		t.Fatalf("expected READY after version+verack, got %v", p.State())
	}
}

func TestIsqrt(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 4: 2, 10: 3, 100: 10, 99: 9}
	for in, want := range cases {
		if got := isqrt(in); got != want {
			t.Fatalf("isqrt(%d): want %d got %d", in, want, got)
		}
	}
}

func TestSamplePeersExcludesSelfAndCapsCount(t *testing.T) {
	peers := []*Peer{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	sample := samplePeers(peers, 2, "a")
	if len(sample) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(sample))
	}
	for _, p := range sample {
		if p.ID == "a" {
			t.Fatalf("excluded ID appeared in sample")
		}
	}
}

func TestSamplePeersReturnsAllWhenNExceedsCandidates(t *testing.T) {
	peers := []*Peer{{ID: "a"}, {ID: "b"}}
	sample := samplePeers(peers, 10, "z")
	if len(sample) != 2 {
		t.Fatalf("expected all 2 candidates, got %d", len(sample))
	}
}

func TestLocateStartFindsContinuationHeight(t *testing.T) {
	bc := newFakeBlockReader(5)
	n := newTestNode(t, bc)
	p, _ := newTestPeerPair(t, n)

	target, _ := bc.GetBlock(2)
	start, ok := p.locateStart([]Hash{target.Hash()})
	if !ok {
		t.Fatalf("expected locator to resolve")
	}
	if start != 3 {
		t.Fatalf("expected continuation height 3, got %d", start)
	}
}

func TestLocateStartUnknownLocator(t *testing.T) {
	bc := newFakeBlockReader(2)
	n := newTestNode(t, bc)
	p, _ := newTestPeerPair(t, n)

	var unknown Hash
	unknown[0] = 0xff
	if _, ok := p.locateStart([]Hash{unknown}); ok {
		t.Fatalf("expected unknown locator hash to not resolve")
	}
}

func TestOnInvRequestsUnknownItemsOnly(t *testing.T) {
	bc := newFakeBlockReader(1)
	n := newTestNode(t, bc)
	p, _ := newTestPeerPair(t, n)
	p.transport = NewTransport(p.conn, p.magic(), p, n.sched, nil, nil, nil, 16)

	known, _ := bc.GetBlock(0)
	var unknownHash Hash
	unknownHash[0] = 0x42

	err := p.onInv(&MsgInv{invList: invList{Items: []InvVect{
		{Type: InvBlock, Hash: known.Hash()},
		{Type: InvBlock, Hash: unknownHash},
	}}})
	if err != nil {
		t.Fatalf("onInv: %v", err)
	}

	msg, err := p.transport.outbound.Dequeue()
	if err != nil {
		t.Fatalf("expected a getdata to be queued: %v", err)
	}
	if msg.Topic != CmdGetData {
		t.Fatalf("expected %q, got %q", CmdGetData, msg.Topic)
	}
	var gd MsgGetData
	if err := gd.Unserialize(bytes.NewReader(msg.Content)); err != nil {
		t.Fatalf("decode getdata: %v", err)
	}
	if len(gd.Items) != 1 || gd.Items[0].Hash != unknownHash {
		t.Fatalf("expected getdata for the unknown hash only, got %+v", gd.Items)
	}
}
