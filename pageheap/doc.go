// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pageheap implements a three-granularity buddy-style physical page
// allocator, based on a tri-level hierarchical bitmap with sibling-rollup
// semantics.
// http://goog-perftools.sourceforge.net/doc/tcmalloc.html describes the
// size-class allocator this design descends from; here the size classes are
// replaced by three fixed granularities — a 4 KiB small page, a 2 MiB big
// page (512 small pages), and a 1 GiB huge page (512 big pages) — tracked by
// three bit-trees (one per granularity) plus a flat allocation-state array.
//
// The allocator's data structures are:
//
//	bitTree: a flat array of 64-bit words read as a fan-out-512 tree. Bit=1
//		at a given level means "allocation at this granularity is still
//		possible here"; bit=0 means "blocked". Three trees exist — one per
//		granularity (small, big, huge) — and they mutually shadow each
//		other: allocating a big or huge page clears only its own bit,
//		leaving the finer tree's bits beneath it stale but unreachable
//		(see the "shadowing" notes on AllocateBig/AllocateHuge).
//	Allocator.state: one tag per small page, the authoritative record of
//		what was handed out and at which base address.
//
// Allocating proceeds top-down: scan the small bit-tree's level-1 node for
// a set bit, then its child level-2 node, then its child level-3 node,
// clearing bits (and cascading the rollup to parents when a node empties)
// on the way back up. Freeing reverses this: set bits bottom-up, cascading
// the rollup upward when a sibling group becomes fully free again.
//
// Every allocate and deallocate operation touches at most a few dozen words
// and never allocates — it is a closed system sized once at construction
// time. The reporting calls (StatFreeMemory, FreeBigCountsByHugeSlot,
// CheckIntegrity) walk whole levels of the trees instead, and
// FreeBigCountsByHugeSlot allocates the slice it returns.
package pageheap
