package core

import (
	"bytes"
	"net"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000, ^uint64(0)}
	for _, v := range values {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		if buf.Len() != VarIntSerializeSize(v) {
			t.Fatalf("size mismatch for %d: wrote %d, expected %d", v, buf.Len(), VarIntSerializeSize(v))
		}
		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip mismatch: want %d got %d", v, got)
		}
	}
}

func TestVarStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := "/wirenode:0.1.0/"
	if err := WriteVarString(&buf, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadVarString(&buf, 256)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestVarStringRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteVarString(&buf, "0123456789"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadVarString(&buf, 4); err == nil {
		t.Fatalf("expected oversize varstring to error")
	}
}

func TestNetworkAddressRoundTrip(t *testing.T) {
	addr := NetworkAddress{Services: 1, IP: net.ParseIP("203.0.113.5"), Port: 8433}

	var buf bytes.Buffer
	if err := WriteNetAddr(&buf, 1234, addr); err != nil {
		t.Fatalf("write: %v", err)
	}
	ts, got, err := ReadNetAddr(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ts != 1234 || got.Services != addr.Services || got.Port != addr.Port || !got.IP.Equal(addr.IP.To16()) {
		t.Fatalf("roundtrip mismatch: got %+v ts=%d", got, ts)
	}
}

func TestNetworkAddressNoTSRoundTrip(t *testing.T) {
	addr := NetworkAddress{Services: 7, IP: net.ParseIP("10.0.0.1"), Port: 1}
	var buf bytes.Buffer
	if err := WriteNetAddrNoTS(&buf, addr); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadNetAddrNoTS(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Services != addr.Services || got.Port != addr.Port {
		t.Fatalf("roundtrip mismatch: got %+v", got)
	}
}

func TestInvVectRoundTrip(t *testing.T) {
	var h Hash
	copy(h[:], bytes.Repeat([]byte{0xab}, 32))
	v := InvVect{Type: InvBlock, Hash: h}

	var buf bytes.Buffer
	if err := WriteInvVect(&buf, v); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadInvVect(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != v {
		t.Fatalf("roundtrip mismatch: want %+v got %+v", v, got)
	}
}

func TestEncodeParseFrameRoundTrip(t *testing.T) {
	const magic = uint32(0xfeedface)
	payload := []byte("hello wire protocol")

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, magic, CmdPing, payload); err != nil {
		t.Fatalf("encode: %v", err)
	}

	hdr, got, consumed, err := ParseFrame(buf.Bytes(), magic)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if consumed != buf.Len() {
		t.Fatalf("consumed %d, want %d", consumed, buf.Len())
	}
	if hdr.Command != CmdPing {
		t.Fatalf("command mismatch: got %q", hdr.Command)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestParseFrameNeedsMoreOnPartialFrame(t *testing.T) {
	const magic = uint32(1)
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, magic, CmdPing, []byte("x")); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, _, _, err := ParseFrame(buf.Bytes()[:MessageHeaderSize-1], magic)
	if err != ErrNeedMore {
		t.Fatalf("expected ErrNeedMore, got %v", err)
	}
}

func TestParseFrameRejectsBadMagic(t *testing.T) {
	const magic = uint32(1)
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, magic, CmdPing, []byte("x")); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, _, _, err := ParseFrame(buf.Bytes(), magic+1)
	var perr *ProtocolError
	if !errorsAs(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestParseFrameRejectsBadChecksum(t *testing.T) {
	const magic = uint32(1)
	var buf bytes.Buffer
	if err := EncodeFrame(&buf, magic, CmdPing, []byte("payload")); err != nil {
		t.Fatalf("encode: %v", err)
	}
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff

	_, _, _, err := ParseFrame(corrupted, magic)
	var perr *ProtocolError
	if !errorsAs(err, &perr) {
		t.Fatalf("expected ProtocolError for bad checksum, got %v", err)
	}
}

func errorsAs(err error, target **ProtocolError) bool {
	perr, ok := err.(*ProtocolError)
	if !ok {
		return false
	}
	*target = perr
	return true
}
