package core

import (
	"bytes"
	"reflect"
	"testing"
)

func TestTLVRoundTripScalars(t *testing.T) {
	cases := []SVal{
		NewSNull(),
		NewSBool(true),
		NewSBool(false),
		NewSInt(-12345),
		NewSInt(0),
		NewSFloat(3.14159),
		NewSString("hello, tlv"),
		NewSBinary([]byte{0x01, 0x02, 0x03}),
	}
	for _, v := range cases {
		var buf bytes.Buffer
		if err := EncodeTLV(&buf, v); err != nil {
			t.Fatalf("encode %+v: %v", v, err)
		}
		got, err := DecodeTLV(&buf)
		if err != nil {
			t.Fatalf("decode %+v: %v", v, err)
		}
		if got.Kind != v.Kind {
			t.Fatalf("kind mismatch: want %v got %v", v.Kind, got.Kind)
		}
		if !reflect.DeepEqual(got, v) {
			t.Fatalf("value mismatch: want %+v got %+v", v, got)
		}
	}
}

func TestTLVRoundTripObject(t *testing.T) {
	obj := NewSObject(map[string]SVal{
		"peer_id": NewSString("local-deadbeef"),
		"height":  NewSInt(42),
		"ready":   NewSBool(true),
		"tags":    NewSArray(NewSString("a"), NewSString("b")),
	})

	var buf bytes.Buffer
	if err := EncodeTLV(&buf, obj); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTLV(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != SObject {
		t.Fatalf("expected SObject, got %v", got.Kind)
	}

	peerID, ok := got.Get("peer_id")
	if !ok || peerID.Str != "local-deadbeef" {
		t.Fatalf("peer_id mismatch: %+v", peerID)
	}
	height, ok := got.Get("height")
	if !ok || height.I != 42 {
		t.Fatalf("height mismatch: %+v", height)
	}
	tags, ok := got.Get("tags")
	if !ok || len(tags.Arr) != 2 || tags.Arr[0].Str != "a" {
		t.Fatalf("tags mismatch: %+v", tags)
	}
}

func TestTLVGetOnNonObjectReturnsFalse(t *testing.T) {
	v := NewSInt(7)
	if _, ok := v.Get("anything"); ok {
		t.Fatalf("expected Get on non-object to report false")
	}
}

func TestTLVDeterministicObjectEncoding(t *testing.T) {
	obj := NewSObject(map[string]SVal{"b": NewSInt(2), "a": NewSInt(1), "c": NewSInt(3)})
	var buf1, buf2 bytes.Buffer
	if err := EncodeTLV(&buf1, obj); err != nil {
		t.Fatalf("encode1: %v", err)
	}
	if err := EncodeTLV(&buf2, obj); err != nil {
		t.Fatalf("encode2: %v", err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Fatalf("expected deterministic key-sorted encoding")
	}
}
