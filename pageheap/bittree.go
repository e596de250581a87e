// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pageheap

import "math/bits"

// Fan-out and geometry constants shared by all three granularities. A block
// index is always expressed in small-page units: a big page at slot b
// occupies small indices [b*SmallPerBig, b*SmallPerBig+SmallPerBig); a huge
// page at slot h occupies [h*SmallPerHuge, h*SmallPerHuge+SmallPerHuge).
const (
	SmallPerBig  = 512
	BigPerHuge   = 512
	SmallPerHuge = SmallPerBig * BigPerHuge // 262144

	// MinGiB and MaxGiB bound the gigabytes of space New will manage.
	MinGiB = 1
	MaxGiB = 512

	wordsPerNode = 8 // 8 words = 512 bits = one node's worth of fan-out
)

// bitTree is a flat array of 64-bit words read as a three-level tree with
// fan-out 512 between non-leaf levels. l1 is a single fixed 8-word node
// (512 bits, one per possible huge-page slot, regardless of how many are
// actually in use — unused trailing bits are held at 0 so scans terminate
// at gib). l2 holds one 8-word node per huge slot in use; l3 holds one
// 8-word node per (huge slot, big slot) pair in use. A tree that doesn't
// need a given level (T_B has no l3, T_H has neither l2 nor l3) simply
// leaves that slice nil.
type bitTree struct {
	l1 [wordsPerNode]uint64
	l2 []uint64
	l3 []uint64
}

// newBitTree builds an all-free tree over gib huge-page slots, with levels
// in {1, 2, 3} controlling how many of l1/l2/l3 are materialized.
func newBitTree(gib, levels int) *bitTree {
	t := &bitTree{}
	for i := range t.l1 {
		t.l1[i] = ^uint64(0)
	}
	for l1 := gib; l1 < MaxGiB; l1++ {
		clearBit(t.l1[:], 0, l1)
	}
	if levels >= 2 {
		t.l2 = allOnesWords(wordsPerNode * gib)
	}
	if levels >= 3 {
		t.l3 = allOnesWords(wordsPerNode * gib * BigPerHuge)
	}
	return t
}

func allOnesWords(n int) []uint64 {
	w := make([]uint64, n)
	for i := range w {
		w[i] = ^uint64(0)
	}
	return w
}

func l2Base(l1 int) int { return wordsPerNode * l1 }

func l3Base(l1, l2 int) int { return wordsPerNode * (l1*BigPerHuge + l2) }

// scanNode returns the index of the lowest set bit among the 512 bits of
// the node starting at words[base:base+8], or (0, false) if the node is
// entirely zero.
func scanNode(words []uint64, base int) (int, bool) {
	for i := 0; i < wordsPerNode; i++ {
		if w := words[base+i]; w != 0 {
			return bits.TrailingZeros64(w) + 64*i, true
		}
	}
	return 0, false
}

// allOnes reports whether every one of the eight words of the node starting
// at words[base:base+8] is 0xFFFFFFFFFFFFFFFF — the "fully free" predicate
// for big- and huge-page siblings.
func allOnes(words []uint64, base int) bool {
	for i := 0; i < wordsPerNode; i++ {
		if words[base+i] != ^uint64(0) {
			return false
		}
	}
	return true
}

func testBit(words []uint64, base, bit int) bool {
	return words[base+bit/64]&(uint64(1)<<uint(bit%64)) != 0
}

func setBit(words []uint64, base, bit int) {
	words[base+bit/64] |= uint64(1) << uint(bit%64)
}

func clearBit(words []uint64, base, bit int) {
	words[base+bit/64] &^= uint64(1) << uint(bit%64)
}

// L1-level accessors (bit l1 addresses a huge-page slot in every tree).

func (t *bitTree) scanL1() (int, bool)   { return scanNode(t.l1[:], 0) }
func (t *bitTree) testL1(l1 int) bool    { return testBit(t.l1[:], 0, l1) }
func (t *bitTree) setL1(l1 int)          { setBit(t.l1[:], 0, l1) }
func (t *bitTree) clearL1(l1 int)        { clearBit(t.l1[:], 0, l1) }

// L2-level accessors (bit l2, scoped to huge slot l1, addresses a big-page
// slot). Only meaningful for T_B and T_S.

func (t *bitTree) scanL2(l1 int) (int, bool) { return scanNode(t.l2, l2Base(l1)) }
func (t *bitTree) l2AllOnes(l1 int) bool     { return allOnes(t.l2, l2Base(l1)) }
func (t *bitTree) testL2(l1, l2 int) bool    { return testBit(t.l2, l2Base(l1), l2) }
func (t *bitTree) setL2(l1, l2 int)          { setBit(t.l2, l2Base(l1), l2) }
func (t *bitTree) clearL2(l1, l2 int)        { clearBit(t.l2, l2Base(l1), l2) }

// L3-level accessors (bit l3, scoped to (l1, l2), addresses a small-page
// slot). Only meaningful for T_S.

func (t *bitTree) scanL3(l1, l2 int) (int, bool) { return scanNode(t.l3, l3Base(l1, l2)) }
func (t *bitTree) l3AllOnes(l1, l2 int) bool     { return allOnes(t.l3, l3Base(l1, l2)) }
func (t *bitTree) testL3(l1, l2, l3 int) bool    { return testBit(t.l3, l3Base(l1, l2), l3) }
func (t *bitTree) setL3(l1, l2, l3 int)          { setBit(t.l3, l3Base(l1, l2), l3) }
func (t *bitTree) clearL3(l1, l2, l3 int)        { clearBit(t.l3, l3Base(l1, l2), l3) }

// clearL2CascadeL1 clears the L2 bit at (l1, l2) and, if that empties the
// L2 node, clears the L1 bit too.
func (t *bitTree) clearL2CascadeL1(l1, l2 int) {
	t.clearL2(l1, l2)
	if _, ok := t.scanL2(l1); !ok {
		t.clearL1(l1)
	}
}

// clearL3CascadeUp clears the L3 bit at (l1, l2, l3) and cascades the
// rollup to L2 and, if that in turn empties, to L1.
func (t *bitTree) clearL3CascadeUp(l1, l2, l3 int) {
	t.clearL3(l1, l2, l3)
	if _, ok := t.scanL3(l1, l2); !ok {
		t.clearL2CascadeL1(l1, l2)
	}
}
