package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type sentMsg struct {
	peerID, command string
	payload         []byte
}

type fakePeerManager struct {
	mu        sync.Mutex
	sampleOut []string
	sent      []sentMsg
	subs      map[string]chan InboundMsg
}

func newFakePeerManager(sample []string) *fakePeerManager {
	return &fakePeerManager{sampleOut: sample, subs: make(map[string]chan InboundMsg)}
}

func (f *fakePeerManager) Peers() []PeerInfo          { return nil }
func (f *fakePeerManager) Connect(addr string) error  { return nil }
func (f *fakePeerManager) Disconnect(id NodeID) error { return nil }
func (f *fakePeerManager) Sample(n int) []string      { return f.sampleOut }

func (f *fakePeerManager) SendAsync(peerID, command string, payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentMsg{peerID, command, payload})
	f.mu.Unlock()
	return nil
}

func (f *fakePeerManager) Subscribe(command string) <-chan InboundMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[command]
	if !ok {
		ch = make(chan InboundMsg, 16)
		f.subs[command] = ch
	}
	return ch
}

func (f *fakePeerManager) Unsubscribe(command string) {}

func (f *fakePeerManager) push(command string, msg InboundMsg) {
	f.mu.Lock()
	ch := f.subs[command]
	f.mu.Unlock()
	ch <- msg
}

func (f *fakePeerManager) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.command
	}
	return out
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestReplicateBlockSendsInvToSampledPeers(t *testing.T) {
	pm := newFakePeerManager([]string{"peer-1", "peer-2"})
	r := NewReplicator(&ReplicationConfig{Fanout: 2}, testLogger(), newFakeBlockReader(0), pm)

	b := &Block{Header: BlockHeader{Version: 1, Timestamp: 5}}
	r.ReplicateBlock(b)

	if len(pm.sentCommands()) != 2 {
		t.Fatalf("expected 2 inv sends, got %d", len(pm.sentCommands()))
	}
	for _, c := range pm.sentCommands() {
		if c != CmdInv {
			t.Fatalf("expected CmdInv, got %q", c)
		}
	}
}

func TestRequestMissingNoPeersErrors(t *testing.T) {
	pm := newFakePeerManager(nil)
	r := NewReplicator(&ReplicationConfig{Fanout: 1, RequestTimeout: time.Second}, testLogger(), newFakeBlockReader(0), pm)

	if _, err := r.RequestMissing(Hash{}); err == nil {
		t.Fatalf("expected error when no peers available")
	}
}

func TestRequestMissingReturnsFirstMatchingBlock(t *testing.T) {
	pm := newFakePeerManager([]string{"peer-1"})
	r := NewReplicator(&ReplicationConfig{Fanout: 1, RequestTimeout: 2 * time.Second}, testLogger(), newFakeBlockReader(0), pm)

	target := &Block{Header: BlockHeader{Version: 2, Timestamp: 42}}
	payload, err := encodeMessage(&MsgBlock{Block: *target})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	pm.Subscribe(CmdBlock)
	go func() {
		time.Sleep(20 * time.Millisecond)
		pm.push(CmdBlock, InboundMsg{Command: CmdBlock, Payload: payload})
	}()

	got, err := r.RequestMissing(target.Hash())
	if err != nil {
		t.Fatalf("RequestMissing: %v", err)
	}
	if got.Hash() != target.Hash() {
		t.Fatalf("expected matching block hash")
	}
}

func TestRequestMissingTimesOut(t *testing.T) {
	pm := newFakePeerManager([]string{"peer-1"})
	r := NewReplicator(&ReplicationConfig{Fanout: 1, RequestTimeout: 30 * time.Millisecond}, testLogger(), newFakeBlockReader(0), pm)

	var h Hash
	h[0] = 1
	if _, err := r.RequestMissing(h); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSynchronizeNoPeersErrors(t *testing.T) {
	pm := newFakePeerManager(nil)
	r := NewReplicator(&ReplicationConfig{Fanout: 1, RequestTimeout: time.Second}, testLogger(), newFakeBlockReader(0), pm)

	if err := r.Synchronize(context.Background()); err == nil {
		t.Fatalf("expected error when no peers available")
	}
}

func TestSynchronizeImportsAnnouncedBlocks(t *testing.T) {
	pm := newFakePeerManager([]string{"peer-1"})
	led := newFakeBlockReader(0)
	r := NewReplicator(&ReplicationConfig{Fanout: 1, RequestTimeout: time.Second}, testLogger(), led, pm)

	pm.Subscribe(CmdInv)
	pm.Subscribe(CmdBlock)

	var h1, h2 Hash
	h1[0], h2[0] = 0xaa, 0xbb

	go func() {
		time.Sleep(10 * time.Millisecond)
		invPayload, _ := encodeMessage(&MsgInv{invList: invList{Items: []InvVect{
			{Type: InvBlock, Hash: h1},
			{Type: InvBlock, Hash: h2},
		}}})
		pm.push(CmdInv, InboundMsg{Command: CmdInv, Payload: invPayload})

		time.Sleep(10 * time.Millisecond)
		b1Payload, _ := encodeMessage(&MsgBlock{Block: Block{Header: BlockHeader{Timestamp: 1}}})
		pm.push(CmdBlock, InboundMsg{Command: CmdBlock, Payload: b1Payload})
		b2Payload, _ := encodeMessage(&MsgBlock{Block: Block{Header: BlockHeader{Timestamp: 2}}})
		pm.push(CmdBlock, InboundMsg{Command: CmdBlock, Payload: b2Payload})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Synchronize(ctx); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if led.LastHeight() != 2 {
		t.Fatalf("expected ledger to advance by 2 imported blocks, got height %d", led.LastHeight())
	}
}
