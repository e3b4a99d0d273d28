package fuzzyhash

import (
	"bytes"
	"testing"
)

func TestSimHashIdenticalInputsMatch(t *testing.T) {
	sh := NewSimHash(64)
	data := []byte("the quick brown fox jumps over the lazy dog")
	if sh.Hash(data) != sh.Hash(append([]byte(nil), data...)) {
		t.Fatal("expected identical inputs to produce identical fingerprints")
	}
}

func TestSimHashSimilarityOfIdenticalIsOne(t *testing.T) {
	sh := NewSimHash(64)
	h := sh.Hash([]byte("crash at frame 0x1234 in libtarget.so"))
	if sh.Similarity(h, h) != 1.0 {
		t.Fatalf("expected self-similarity of 1.0, got %f", sh.Similarity(h, h))
	}
}

func TestSimHashDissimilarInputsScoreLower(t *testing.T) {
	sh := NewSimHash(64)
	a := sh.Hash(bytes.Repeat([]byte{0x41}, 200))
	b := sh.Hash(bytes.Repeat([]byte{0x5a}, 200))
	if sh.Similarity(a, a) <= sh.Similarity(a, b) {
		t.Fatal("expected two very different buffers to score lower than self-similarity")
	}
}

func TestTLSHFilterIgnoresUndersizedInputs(t *testing.T) {
	f := NewTLSHFilter(30)
	small := []byte("short")
	if f.IsNearDuplicate(small) {
		t.Fatal("expected undersized input to never be flagged as a duplicate")
	}
	if err := f.Observe(small); err != nil {
		t.Fatalf("Observe on undersized input should be a no-op, got error: %v", err)
	}
}

func TestTLSHFilterDetectsNearDuplicate(t *testing.T) {
	f := NewTLSHFilter(100)
	base := bytes.Repeat([]byte("AAAABBBBCCCCDDDD"), 10)
	if err := f.Observe(base); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	nearDup := append([]byte(nil), base...)
	nearDup[0] = 'X' // one-byte perturbation

	if !f.IsNearDuplicate(nearDup) {
		t.Fatal("expected a one-byte perturbation to be flagged as a near-duplicate")
	}
}

func TestTLSHFilterDistinguishesUnrelatedContent(t *testing.T) {
	f := NewTLSHFilter(10) // tight threshold
	if err := f.Observe(bytes.Repeat([]byte("AAAA"), 30)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	unrelated := bytes.Repeat([]byte("the quick brown fox jumps over "), 5)
	if f.IsNearDuplicate(unrelated) {
		t.Fatal("expected unrelated content not to be flagged as a near-duplicate under a tight threshold")
	}
}
