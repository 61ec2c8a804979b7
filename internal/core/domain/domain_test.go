package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestBlockRangeSplit(t *testing.T) {
	tests := []struct {
		name string
		r    BlockRange
		size uint64
		want []BlockRange
	}{
		{"fits", BlockRange{51, 60}, 10, []BlockRange{{51, 60}}},
		{"gap backfill", BlockRange{51, 80}, 10, []BlockRange{{51, 60}, {61, 70}, {71, 80}}},
		{"uneven", BlockRange{1, 25}, 10, []BlockRange{{1, 10}, {11, 20}, {21, 25}}},
		{"single", BlockRange{7, 7}, 10, []BlockRange{{7, 7}}},
		{"zero size", BlockRange{1, 100}, 0, []BlockRange{{1, 100}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.Split(tt.size)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Split(%d) = %v, want %v", tt.size, got, tt.want)
			}
		})
	}
}

func TestBlockRangeNearMaxUint(t *testing.T) {
	const top = ^uint64(0)

	got := BlockRange{Start: top - 4, End: top}.Split(2)
	want := []BlockRange{{top - 4, top - 3}, {top - 2, top - 1}, {top, top}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Split(2) = %v, want %v", got, want)
	}

	if got := (BlockRange{Start: top - 9, End: top}).Split(5); len(got) != 2 || got[1].End != top {
		t.Errorf("Split(5) = %v", got)
	}
	if got := (BlockRange{Start: 0, End: top}).Size(); got != top {
		t.Errorf("full range Size = %d, want saturated max", got)
	}
	if got := (BlockRange{Start: 1, End: top}).Split(top); len(got) != 1 {
		t.Errorf("Split(max) = %v, want a single chunk", got)
	}

	if !(BlockRange{top - 5, top}).Overlaps(BlockRange{top, top}) {
		t.Error("ranges sharing the top block must overlap")
	}
	if (BlockRange{1, 5}).Overlaps(BlockRange{10, top}) {
		t.Error("disjoint ranges must not overlap")
	}
	merged := MergeRanges([]BlockRange{{top - 1, top}, {1, 2}, {top - 5, top - 2}})
	if fmt.Sprint(merged) != fmt.Sprint([]BlockRange{{1, 2}, {top - 5, top}}) {
		t.Errorf("MergeRanges near max = %v", merged)
	}
}

func TestBlockRangeHalve(t *testing.T) {
	lo, hi, ok := BlockRange{61, 70}.Halve()
	if !ok || lo != (BlockRange{61, 65}) || hi != (BlockRange{66, 70}) {
		t.Errorf("Halve = %v %v %v", lo, hi, ok)
	}
	if _, _, ok := (BlockRange{5, 5}).Halve(); ok {
		t.Error("single block range must not halve")
	}
}

func TestMergeRanges(t *testing.T) {
	in := []BlockRange{{20, 30}, {1, 10}, {11, 15}, {40, 50}}
	got := MergeRanges(in)
	want := []BlockRange{{1, 15}, {20, 30}, {40, 50}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("MergeRanges = %v, want %v", got, want)
	}
}

func TestParseBlockRange(t *testing.T) {
	tests := []struct {
		in        string
		want      BlockRange
		expectErr bool
	}{
		{"100-200", BlockRange{100, 200}, false},
		{"5-5", BlockRange{5, 5}, false},
		{"0-18446744073709551615", BlockRange{0, ^uint64(0)}, false},
		{"200-100", BlockRange{}, true},
		{"abc-10", BlockRange{}, true},
		{"100", BlockRange{}, true},
		{"1-2-3", BlockRange{}, true},
		{"5-10abc", BlockRange{}, true},
		{" 5-10", BlockRange{}, true},
		{"-5-10", BlockRange{}, true},
		{"5-18446744073709551616", BlockRange{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBlockRange(tt.in)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for %q, got %v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChainEventBefore(t *testing.T) {
	a := &ChainEvent{BlockNumber: 10, LogIndex: 2}
	b := &ChainEvent{BlockNumber: 10, LogIndex: 0}
	c := &ChainEvent{BlockNumber: 11, LogIndex: 0}

	if !b.Before(a) || !a.Before(c) || c.Before(b) {
		t.Error("unexpected ordering")
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	var err error = &DecodeError{TxHash: "0x1", Reason: "bad arity"}
	if !errors.Is(fmt.Errorf("wrap: %w", err), ErrDecode) {
		t.Error("DecodeError should match ErrDecode")
	}

	err = &RegressionError{Stream: NewStreamKey(1, "0xABC"), Current: 100, Attempted: 90}
	if !errors.Is(err, ErrCheckpointRegression) {
		t.Error("RegressionError should match ErrCheckpointRegression")
	}
	if errors.Is(err, ErrDecode) {
		t.Error("RegressionError must not match ErrDecode")
	}
}

func TestStreamKeyNormalizesContract(t *testing.T) {
	a := NewStreamKey(ChainIDSepolia, "0xAbCd")
	b := NewStreamKey(ChainIDSepolia, "0xabcd")
	if a != b {
		t.Errorf("keys differ: %v vs %v", a, b)
	}
	if a.String() != "11155111/0xabcd" {
		t.Errorf("String() = %s", a.String())
	}
}

func TestParseChainID(t *testing.T) {
	id, err := ParseChainID("137")
	if err != nil || id != ChainIDPolygon || id.Name() != string(ChainNamePolygon) {
		t.Errorf("ParseChainID = %v (%s), %v", id, id.Name(), err)
	}
	if _, err := ParseChainID("x"); err == nil {
		t.Error("expected error")
	}
	if ChainID(999).Name() != "999" {
		t.Error("unknown chain should fall back to decimal")
	}
}
