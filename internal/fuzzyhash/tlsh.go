package fuzzyhash

import (
	"errors"

	"github.com/glaslos/tlsh"
)

// TLSHFilter flags near-duplicate corpus entries before they are
// offered to the dynamic queue, trimming redundant variants that
// differ by only a handful of bytes. Reduced to the single
// distance-from-most-similar-seen query the corpus needs rather than
// a full baseline/report API.
type TLSHFilter struct {
	minDataSize int
	threshold   int
	seen        []*tlsh.TLSH
}

// NewTLSHFilter creates a filter that treats any two inputs within
// threshold TLSH distance as near-duplicates. TLSH requires at least
// 50 bytes of content to produce a meaningful hash; shorter inputs are
// always treated as distinct (never filtered).
func NewTLSHFilter(threshold int) *TLSHFilter {
	if threshold <= 0 {
		threshold = 30
	}
	return &TLSHFilter{minDataSize: 50, threshold: threshold}
}

// IsNearDuplicate reports whether data is within threshold TLSH
// distance of any previously-offered entry.
func (f *TLSHFilter) IsNearDuplicate(data []byte) bool {
	if len(data) < f.minDataSize {
		return false
	}
	h, err := tlsh.HashBytes(data)
	if err != nil {
		return false
	}
	for _, prev := range f.seen {
		if h.Diff(prev) <= f.threshold {
			return true
		}
	}
	return false
}

// Observe records data's TLSH hash so future IsNearDuplicate calls
// can compare against it. No-op for inputs too small to hash.
func (f *TLSHFilter) Observe(data []byte) error {
	if len(data) < f.minDataSize {
		return nil
	}
	h, err := tlsh.HashBytes(data)
	if err != nil {
		return err
	}
	f.seen = append(f.seen, h)
	return nil
}

// ErrTooSmall is returned by callers that want to distinguish
// "too small to hash" from an actual TLSH computation failure.
var ErrTooSmall = errors.New("fuzzyhash: content smaller than TLSH minimum")
