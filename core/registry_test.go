package core

import (
	"bytes"
	"net"
	"testing"
)

func TestNewMessageResolvesKnownCommands(t *testing.T) {
	for _, cmd := range []string{CmdVersion, CmdVerAck, CmdPing, CmdPong, CmdInv, CmdGetData, CmdBlock} {
		msg, ok := NewMessage(cmd)
		if !ok {
			t.Fatalf("expected %q to be registered", cmd)
		}
		if msg.Command() != cmd {
			t.Fatalf("factory for %q produced Command() %q", cmd, msg.Command())
		}
	}
}

func TestNewMessageUnknownCommand(t *testing.T) {
	if _, ok := NewMessage("not-a-real-command"); ok {
		t.Fatalf("expected unknown command to resolve to ok=false")
	}
}

func TestKnownCommandsContainsCoreSet(t *testing.T) {
	known := make(map[string]struct{})
	for _, c := range KnownCommands() {
		known[c] = struct{}{}
	}
	for _, want := range []string{CmdVersion, CmdVerAck, CmdGetHeaders, CmdHeaders, CmdCmpctBlock, CmdGetBlockTxn, CmdBlockTxn, CmdReject} {
		if _, ok := known[want]; !ok {
			t.Fatalf("expected %q in KnownCommands", want)
		}
	}
}

func TestMsgVersionSerializeRoundTrip(t *testing.T) {
	v := &MsgVersion{
		ProtocolVersion: 70015,
		Services:        1,
		Timestamp:       1700000000,
		AddrRecv:        NetworkAddress{Services: 1, IP: net.ParseIP("1.2.3.4"), Port: 8433},
		AddrFrom:        NetworkAddress{Services: 1, IP: net.ParseIP("5.6.7.8"), Port: 8433},
		Nonce:           0xdeadbeefcafebabe,
		UserAgent:       "/wirenode:0.1.0/",
		StartHeight:     123,
		Relay:           true,
	}

	var buf bytes.Buffer
	if err := v.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	var got MsgVersion
	if err := got.Unserialize(&buf); err != nil {
		t.Fatalf("unserialize: %v", err)
	}
	if got.ProtocolVersion != v.ProtocolVersion || got.Nonce != v.Nonce || got.UserAgent != v.UserAgent ||
		got.StartHeight != v.StartHeight || got.Relay != v.Relay {
		t.Fatalf("roundtrip mismatch: want %+v got %+v", v, got)
	}
}

func TestMsgInvSerializeRoundTrip(t *testing.T) {
	var h1, h2 Hash
	copy(h1[:], bytes.Repeat([]byte{0x11}, 32))
	copy(h2[:], bytes.Repeat([]byte{0x22}, 32))

	m := &MsgInv{invList{Items: []InvVect{
		{Type: InvTx, Hash: h1},
		{Type: InvBlock, Hash: h2},
	}}}

	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	var got MsgInv
	if err := got.Unserialize(&buf); err != nil {
		t.Fatalf("unserialize: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0] != m.Items[0] || got.Items[1] != m.Items[1] {
		t.Fatalf("roundtrip mismatch: got %+v", got.Items)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	RegisterMessage(CmdPing, func() Message { return &MsgPing{} })
}
