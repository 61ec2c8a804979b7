package postgres

import (
	"math/big"
	"testing"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/infra/storage"
)

var (
	_ storage.EventRepository      = (*EventRepo)(nil)
	_ storage.CheckpointRepository = (*CheckpointRepo)(nil)
)

func TestBigStringRoundTrip(t *testing.T) {
	tests := []string{
		"0",
		"1000000000000000000",
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
	}
	for _, s := range tests {
		v, err := parseBig(s)
		if err != nil {
			t.Fatalf("parseBig(%q): %v", s, err)
		}
		if got := bigString(v); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}

	if bigString(nil) != "0" {
		t.Error("nil big.Int should encode as 0")
	}
	if _, err := parseBig("1.5"); err == nil {
		t.Error("expected error for fractional numeric")
	}
}

func TestRowToDomain(t *testing.T) {
	row := eventRow{
		ChainID:           11155111,
		BlockNumber:       120,
		TxHash:            "0xfeed",
		LogIndex:          3,
		Seller:            "0xaa",
		NFTAddress:        "0xbb",
		TokenID:           "7",
		Price:             "1000000000000000000",
		ERC20TokenAddress: "0xcc",
		ERC20TokenName:    "WETH",
	}

	e, err := row.toDomain(domain.EventKindItemListed)
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}
	if e.ChainID != domain.ChainIDSepolia || e.LogIndex != 3 {
		t.Errorf("unexpected origin: %+v", e)
	}
	p, ok := e.Payload.(domain.ItemListed)
	if !ok {
		t.Fatalf("payload type %T", e.Payload)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if p.Listing.Price.Cmp(want) != 0 || p.TokenID.Int64() != 7 {
		t.Errorf("unexpected payload: %+v", p)
	}

	row.TokenID = "abc"
	if _, err := row.toDomain(domain.EventKindItemCanceled); err == nil {
		t.Error("expected error for invalid token id")
	}
}
