package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	Start uint64
	End   uint64
}

// String returns the range in "start-end" format.
func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Size returns the number of blocks in the range. The full uint64 range
// saturates at math.MaxUint64.
func (r BlockRange) Size() uint64 {
	if r.End-r.Start == math.MaxUint64 {
		return math.MaxUint64
	}
	return r.End - r.Start + 1
}

// Split splits the range into consecutive chunks of at most maxSize blocks,
// in increasing order.
func (r BlockRange) Split(maxSize uint64) []BlockRange {
	if maxSize == 0 || r.Size() <= maxSize {
		return []BlockRange{r}
	}

	var chunks []BlockRange
	current := r.Start

	for current <= r.End {
		chunkEnd := r.End
		if r.End-current >= maxSize {
			chunkEnd = current + maxSize - 1
		}
		chunks = append(chunks, BlockRange{Start: current, End: chunkEnd})
		if chunkEnd == r.End {
			break
		}
		current = chunkEnd + 1
	}

	return chunks
}

// Halve splits the range in two. ok is false for single-block ranges.
func (r BlockRange) Halve() (lo, hi BlockRange, ok bool) {
	if r.Start >= r.End {
		return r, BlockRange{}, false
	}
	mid := r.Start + (r.End-r.Start)/2
	return BlockRange{Start: r.Start, End: mid}, BlockRange{Start: mid + 1, End: r.End}, true
}

// Overlaps checks if two ranges overlap or are adjacent.
func (r BlockRange) Overlaps(other BlockRange) bool {
	return adjacentOrBefore(r.Start, other.End) && adjacentOrBefore(other.Start, r.End)
}

// adjacentOrBefore reports start <= end+1 without overflowing at the top.
func adjacentOrBefore(start, end uint64) bool {
	return end == math.MaxUint64 || start <= end+1
}

// Merge merges two overlapping/adjacent ranges.
func (r BlockRange) Merge(other BlockRange) BlockRange {
	return BlockRange{Start: min(r.Start, other.Start), End: max(r.End, other.End)}
}

// MergeRanges merges overlapping and adjacent ranges.
func MergeRanges(ranges []BlockRange) []BlockRange {
	if len(ranges) <= 1 {
		return ranges
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})

	merged := []BlockRange{ranges[0]}

	for i := 1; i < len(ranges); i++ {
		last := &merged[len(merged)-1]
		current := ranges[i]

		if last.Overlaps(current) {
			*last = last.Merge(current)
		} else {
			merged = append(merged, current)
		}
	}

	return merged
}

// ParseBlockRange parses a "start-end" string into a BlockRange. Both bounds
// must be plain decimal numbers.
func ParseBlockRange(s string) (BlockRange, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return BlockRange{}, fmt.Errorf("invalid range format: %q", s)
	}
	start, err := strconv.ParseUint(startStr, 10, 64)
	if err != nil {
		return BlockRange{}, fmt.Errorf("invalid start in %q: %w", s, err)
	}
	end, err := strconv.ParseUint(endStr, 10, 64)
	if err != nil {
		return BlockRange{}, fmt.Errorf("invalid end in %q: %w", s, err)
	}
	if start > end {
		return BlockRange{}, fmt.Errorf("start > end: %d > %d", start, end)
	}
	return BlockRange{Start: start, End: end}, nil
}
