// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pageheap

import "testing"

func mustNew(t *testing.T, gib int) *Allocator {
	t.Helper()
	a, err := New(gib)
	if err != nil {
		t.Fatalf("New(%d): %v", gib, err)
	}
	return a
}

func TestNewRejectsOutOfRange(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatalf("New(0): expected error")
	}
	if _, err := New(MaxGiB + 1); err == nil {
		t.Fatalf("New(%d): expected error", MaxGiB+1)
	}
}

func TestInitialStat(t *testing.T) {
	a := mustNew(t, 8)
	huge, big, small := a.StatFreeMemory()
	if huge != 8 || big != 0 || small != 0 {
		t.Fatalf("got (%d,%d,%d), want (8,0,0)", huge, big, small)
	}
}

// Scenario 1: allocate one small.
func TestScenarioAllocateOneSmall(t *testing.T) {
	a := mustNew(t, 8)
	if _, ok := a.AllocateSmall(); !ok {
		t.Fatalf("AllocateSmall: expected success")
	}
	huge, big, small := a.StatFreeMemory()
	if huge != 7 || big != 511 || small != 511 {
		t.Fatalf("got (%d,%d,%d), want (7,511,511)", huge, big, small)
	}
}

// Scenario 2: allocate one big at base 0.
func TestScenarioAllocateOneBig(t *testing.T) {
	a := mustNew(t, 8)
	idx, ok := a.AllocateBig()
	if !ok || idx != 0 {
		t.Fatalf("AllocateBig: got (%d,%v), want (0,true)", idx, ok)
	}
	huge, big, small := a.StatFreeMemory()
	if huge != 7 || big != 511 || small != 0 {
		t.Fatalf("got (%d,%d,%d), want (7,511,0)", huge, big, small)
	}
}

// Scenario 3: allocate one huge at base 0.
func TestScenarioAllocateOneHuge(t *testing.T) {
	a := mustNew(t, 8)
	idx, ok := a.AllocateHuge()
	if !ok || idx != 0 {
		t.Fatalf("AllocateHuge: got (%d,%v), want (0,true)", idx, ok)
	}
	huge, big, small := a.StatFreeMemory()
	if huge != 7 || big != 0 || small != 0 {
		t.Fatalf("got (%d,%d,%d), want (7,0,0)", huge, big, small)
	}
}

// Scenario 4: allocate every small in order, exhaust, then free all.
func TestScenarioExhaustAndFreeAllSmalls(t *testing.T) {
	const gib = 1
	a := mustNew(t, gib)
	total := gib * SmallPerHuge
	for i := 0; i < total; i++ {
		idx, ok := a.AllocateSmall()
		if !ok || int(idx) != i {
			t.Fatalf("allocation %d: got (%d,%v), want (%d,true)", i, idx, ok, i)
		}
	}
	if _, ok := a.AllocateSmall(); ok {
		t.Fatalf("allocator should be exhausted after %d allocations", total)
	}
	for i := total - 1; i >= 0; i-- {
		a.DeallocateSmall(uint32(i))
	}
	huge, big, small := a.StatFreeMemory()
	if huge != uint64(gib) || big != 0 || small != 0 {
		t.Fatalf("got (%d,%d,%d), want (%d,0,0)", huge, big, small, gib)
	}
	if err := a.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

// Scenario 5: checkerboard of big/small over one huge page exhausts it
// exactly: 256 bigs and 256*512 smalls.
func TestScenarioCheckerboardExhaustsHuge(t *testing.T) {
	a := mustNew(t, 1)
	var bigs, smalls int
	for l2 := 0; l2 < BigPerHuge; l2++ {
		if l2%2 == 0 {
			if _, ok := a.AllocateBig(); !ok {
				t.Fatalf("AllocateBig failed at big slot %d", l2)
			}
			bigs++
			continue
		}
		for i := 0; i < SmallPerBig; i++ {
			if _, ok := a.AllocateSmall(); !ok {
				t.Fatalf("AllocateSmall failed within big slot %d at small %d", l2, i)
			}
			smalls++
		}
	}
	if bigs != 256 || smalls != 256*512 {
		t.Fatalf("got bigs=%d smalls=%d, want 256 and %d", bigs, smalls, 256*512)
	}
	huge, big, small := a.StatFreeMemory()
	if huge != 0 || big != 0 || small != 0 {
		t.Fatalf("huge page should be exactly exhausted: got (%d,%d,%d)", huge, big, small)
	}
	if _, ok := a.AllocateSmall(); ok {
		t.Fatalf("no further small allocation should succeed")
	}
	if _, ok := a.AllocateBig(); ok {
		t.Fatalf("no further big allocation should succeed")
	}
}

// Scenario 6: with G=2, allocate a huge, free it, then allocate two
// huges in a row; with the lowest-first policy they must return 0 then
// 262144.
func TestScenarioHugeLowestFirstPolicy(t *testing.T) {
	a := mustNew(t, 2)
	idx, ok := a.AllocateHuge()
	if !ok || idx != 0 {
		t.Fatalf("first AllocateHuge: got (%d,%v), want (0,true)", idx, ok)
	}
	a.DeallocateHuge(idx)

	first, ok := a.AllocateHuge()
	if !ok || first != 0 {
		t.Fatalf("got (%d,%v), want (0,true)", first, ok)
	}
	second, ok := a.AllocateHuge()
	if !ok || second != SmallPerHuge {
		t.Fatalf("got (%d,%v), want (%d,true)", second, ok, SmallPerHuge)
	}
}

func TestRoundTripRestoresState(t *testing.T) {
	a := mustNew(t, 4)
	before := [3]uint64{}
	before[0], before[1], before[2] = a.StatFreeMemory()

	smallIdx, _ := a.AllocateSmall()
	bigIdx, _ := a.AllocateBig()
	hugeIdx, _ := a.AllocateHuge()

	a.DeallocateSmall(smallIdx)
	a.DeallocateBig(bigIdx)
	a.DeallocateHuge(hugeIdx)

	if err := a.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity after round-trip: %v", err)
	}
	huge, big, small := a.StatFreeMemory()
	if huge != before[0] || big != before[1] || small != before[2] {
		t.Fatalf("got (%d,%d,%d), want (%d,%d,%d)", huge, big, small, before[0], before[1], before[2])
	}
}

func TestDeallocateIdempotentAndWrongGranularityIsNoop(t *testing.T) {
	a := mustNew(t, 2)
	idx, _ := a.AllocateBig()

	a.DeallocateSmall(idx) // wrong granularity: must be a no-op
	if a.state[idx] != PageBig {
		t.Fatalf("DeallocateSmall on a Big index must not change its tag")
	}

	a.DeallocateBig(idx)
	if a.state[idx] != PageFree {
		t.Fatalf("DeallocateBig should have freed the index")
	}
	huge, big, small := a.StatFreeMemory()

	a.DeallocateBig(idx) // already free: must be idempotent
	huge2, big2, small2 := a.StatFreeMemory()
	if huge != huge2 || big != big2 || small != small2 {
		t.Fatalf("double DeallocateBig changed state: (%d,%d,%d) -> (%d,%d,%d)", huge, big, small, huge2, big2, small2)
	}
}

func TestDeallocateBigRejectsMisalignedAndWrongTag(t *testing.T) {
	a := mustNew(t, 1)
	smallIdx, _ := a.AllocateSmall()

	a.DeallocateBig(smallIdx) // allocated as Small, not Big: no-op
	if a.state[smallIdx] != PageSmall {
		t.Fatalf("DeallocateBig must not affect an index allocated as Small")
	}

	a.DeallocateBig(1) // misaligned: no-op, must not panic
	if err := a.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestHugeSubsetInvariantAfterMixedAllocations(t *testing.T) {
	a := mustNew(t, 4)
	a.AllocateHuge()
	a.AllocateBig()
	a.AllocateSmall()

	for l1 := 0; l1 < 4; l1++ {
		if a.huge.testL1(l1) && !a.big.testL1(l1) {
			t.Fatalf("l1 %d: T_H set but T_B clear, violates T_H subset T_B", l1)
		}
		if a.big.testL1(l1) && !a.small.testL1(l1) {
			t.Fatalf("l1 %d: T_B set but T_S clear, violates T_B subset T_S", l1)
		}
	}
	if err := a.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity: %v", err)
	}
}

func TestAllocateSmallIndicesAreSequentialWithinAHuge(t *testing.T) {
	a := mustNew(t, 1)
	for i := 0; i < 10; i++ {
		idx, ok := a.AllocateSmall()
		if !ok || int(idx) != i {
			t.Fatalf("allocation %d: got (%d,%v)", i, idx, ok)
		}
	}
}

func TestAllocateBigAndHugeReturnAlignedIndices(t *testing.T) {
	a := mustNew(t, 2)
	bigIdx, ok := a.AllocateBig()
	if !ok || bigIdx%SmallPerBig != 0 {
		t.Fatalf("AllocateBig returned unaligned index %d", bigIdx)
	}
	hugeIdx, ok := a.AllocateHuge()
	if !ok || hugeIdx%SmallPerHuge != 0 {
		t.Fatalf("AllocateHuge returned unaligned index %d", hugeIdx)
	}
}
