package core

import (
	"net"
	"testing"
)

func TestAddressBookAddAndLen(t *testing.T) {
	b := NewAddressBook(NodeID("local-1"))
	b.Add("1.2.3.4:8433", NetworkAddress{IP: net.ParseIP("1.2.3.4"), Port: 8433}, 1, 1000)
	b.Add("5.6.7.8:8433", NetworkAddress{IP: net.ParseIP("5.6.7.8"), Port: 8433}, 1, 1000)
	if b.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", b.Len())
	}

	// Re-adding the same key refreshes rather than duplicates.
	b.Add("1.2.3.4:8433", NetworkAddress{IP: net.ParseIP("1.2.3.4"), Port: 8433}, 1, 2000)
	if b.Len() != 2 {
		t.Fatalf("expected refresh to not grow entry count, got %d", b.Len())
	}
}

func TestAddressBookRemove(t *testing.T) {
	b := NewAddressBook(NodeID("local-1"))
	b.Add("1.2.3.4:8433", NetworkAddress{IP: net.ParseIP("1.2.3.4"), Port: 8433}, 0, 1000)
	b.Remove("1.2.3.4:8433")
	if b.Len() != 0 {
		t.Fatalf("expected 0 entries after remove, got %d", b.Len())
	}
}

func TestAddressBookSampleExcludesStale(t *testing.T) {
	b := NewAddressBook(NodeID("local-1"))
	b.Add("fresh:1", NetworkAddress{IP: net.ParseIP("1.1.1.1"), Port: 1}, 0, 100000)
	b.Add("stale:1", NetworkAddress{IP: net.ParseIP("2.2.2.2"), Port: 1}, 0, 0)

	now := int64(100000)
	out := b.Sample(10, now)
	if len(out) != 1 {
		t.Fatalf("expected 1 fresh address, got %d", len(out))
	}
	if !out[0].IP.Equal(net.ParseIP("1.1.1.1")) {
		t.Fatalf("expected fresh address to be 1.1.1.1, got %v", out[0].IP)
	}
}

func TestAddressBookSampleRespectsLimit(t *testing.T) {
	b := NewAddressBook(NodeID("local-1"))
	for i := 0; i < 10; i++ {
		ip := net.IPv4(10, 0, 0, byte(i+1))
		b.Add(ip.String(), NetworkAddress{IP: ip, Port: 8433}, 0, 1000)
	}
	out := b.Sample(3, 1000)
	if len(out) != 3 {
		t.Fatalf("expected sample capped at 3, got %d", len(out))
	}
}
