package aquarius

import (
	"strings"
	"testing"
)

func TestDIDFromAddress(t *testing.T) {
	did, err := DIDFromAddress("0x12345678901234567890123456789012345678ab")
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	if !IsDID(did) {
		t.Fatalf("derived value is not a DID: %s", did)
	}

	// derivation is case-insensitive on the address
	upper, err := DIDFromAddress("0x12345678901234567890123456789012345678AB")
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	if upper != did {
		t.Fatalf("derivation must be deterministic: %s != %s", upper, did)
	}

	other, _ := DIDFromAddress("0x0000000000000000000000000000000000000001")
	if other == did {
		t.Fatalf("distinct addresses must derive distinct DIDs")
	}
}

func TestDIDFromAddressRejectsMalformed(t *testing.T) {
	for _, addr := range []string{"", "0x123", "not-an-address", "did:op:abc"} {
		if _, err := DIDFromAddress(addr); err == nil {
			t.Fatalf("expected error for %q", addr)
		}
	}
}

func TestIsDID(t *testing.T) {
	valid := DIDPrefix + strings.Repeat("ab", 32)
	if !IsDID(valid) {
		t.Fatalf("expected %s to be a DID", valid)
	}
	for _, s := range []string{
		"",
		"did:op:",
		DIDPrefix + "xyz",
		DIDPrefix + strings.Repeat("ab", 16),
		"did:eth:" + strings.Repeat("ab", 32),
	} {
		if IsDID(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestTokenAddress(t *testing.T) {
	rec := &Record{
		ID:        "did:op:x",
		DataToken: "0x1234567890123456789012345678901234567890",
	}
	addr, err := rec.TokenAddress()
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if !strings.EqualFold(addr, rec.DataToken) {
		t.Fatalf("unexpected address %s", addr)
	}

	// dataTokenInfo.address wins over the top-level field
	rec.DataTokenInfo = &DataTokenInfo{Address: "0x0000000000000000000000000000000000000001"}
	addr, err = rec.TokenAddress()
	if err != nil {
		t.Fatalf("resolution failed: %v", err)
	}
	if !strings.EqualFold(addr, rec.DataTokenInfo.Address) {
		t.Fatalf("expected dataTokenInfo address, got %s", addr)
	}
}

func TestTokenAddressRejectsMalformed(t *testing.T) {
	rec := &Record{ID: "did:op:x", DataToken: "not-an-address"}
	if _, err := rec.TokenAddress(); err == nil {
		t.Fatalf("expected error for malformed datatoken")
	}
}

func TestEventPointAfter(t *testing.T) {
	cases := []struct {
		p, other EventPoint
		want     bool
	}{
		{EventPoint{Block: 2}, EventPoint{Block: 1}, true},
		{EventPoint{Block: 1}, EventPoint{Block: 2}, false},
		{EventPoint{Block: 1, LogIndex: 3}, EventPoint{Block: 1, LogIndex: 2}, true},
		{EventPoint{Block: 1, LogIndex: 2}, EventPoint{Block: 1, LogIndex: 2}, false},
		{EventPoint{Block: 1}, EventPoint{Block: 1}, false},
	}
	for i, c := range cases {
		if got := c.p.After(c.other); got != c.want {
			t.Fatalf("case %d: After(%+v, %+v) = %v", i, c.p, c.other, got)
		}
	}
}

func TestMetadataService(t *testing.T) {
	services := []Service{
		{Type: ServiceTypeAccess, Index: 0},
		{Type: ServiceTypeMetadata, Index: 1, Attributes: ServiceAttributes{Name: "n"}},
	}
	meta := MetadataService(services)
	if meta == nil || meta.Index != 1 {
		t.Fatalf("unexpected metadata service %+v", meta)
	}

	if MetadataService([]Service{{Type: ServiceTypeCompute}}) != nil {
		t.Fatalf("expected nil for missing metadata service")
	}
}
