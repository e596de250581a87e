// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver implements a stochastic workload generator for exercising
// a pageheap.Allocator: one allocate-or-free arrival per tick,
// Bernoulli-weighted choice of granularity, and live progress/logging
// while it runs. It is a
// consumer of the allocator's public API only — it has no access to, and
// makes no assumption about, the allocator's internals.
package driver

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/Walterieux/vmxvmm-report/pageheap"
)

// Config describes one workload run.
type Config struct {
	// GiB sizes the allocator under test.
	GiB int
	// Ticks is the number of arrivals to simulate.
	Ticks int
	// ArrivalRate is the rate of the exponential inter-arrival gap drawn
	// once per tick. The gap is discarded: every tick performs exactly one
	// allocate or free whatever the rate. A positive rate makes each tick
	// consume one extra value from the RNG stream; a rate <= 0 skips that
	// draw. The size of a positive rate has no effect on the run.
	ArrivalRate float64
	// PSmall, PBig, PHuge are the Bernoulli weights for granularity
	// selection. They need not sum to 1; they are normalized internally.
	PSmall, PBig, PHuge float64
	// FreeProbability is the chance, per tick, that a previously
	// allocated block is freed instead of a new one allocated.
	FreeProbability float64
	// Seed makes a run reproducible. Zero means "use an arbitrary seed".
	Seed int64
	// ShowProgress renders an mpb progress bar to standard output (mpb's
	// default) while the run executes.
	ShowProgress bool
}

// Sample is one tick's observation, suitable for CSV/PNG reporting.
type Sample struct {
	Tick              int
	FreeHuge          uint64
	FreeBig           uint64
	FreeSmall         uint64
	AllocateAttempted bool
	AllocateSucceeded bool
	Granularity       pageheap.PageTag
	// FreeBigByHugeSlot holds, per huge-page slot in address order, the
	// number of big pages still fully free within it — a spatial
	// snapshot feeding WriteHeatmapPNG's fragmentation map.
	FreeBigByHugeSlot []int
}

type liveBlock struct {
	idx         uint32
	granularity pageheap.PageTag
}

// Run drives cfg.Ticks arrivals against a freshly constructed allocator
// and returns one Sample per tick. It never panics on allocator
// exhaustion — a failed allocate is recorded in the sample and the run
// continues.
func Run(ctx context.Context, cfg Config) ([]Sample, error) {
	a, err := pageheap.New(cfg.GiB)
	if err != nil {
		return nil, errors.Wrap(err, "driver: constructing allocator")
	}

	log := logrus.WithFields(logrus.Fields{
		"component": "driver",
		"gib":       cfg.GiB,
		"ticks":     cfg.Ticks,
	})
	log.Info("starting workload run")

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	total := cfg.PSmall + cfg.PBig + cfg.PHuge
	if total <= 0 {
		return nil, errors.New("driver: at least one of PSmall/PBig/PHuge must be positive")
	}
	pSmall, pBig := cfg.PSmall/total, cfg.PBig/total

	var bar *mpb.Progress
	var pbar *mpb.Bar
	if cfg.ShowProgress {
		bar = mpb.New(mpb.WithWidth(60))
		pbar = bar.AddBar(int64(cfg.Ticks),
			mpb.PrependDecorators(decor.Name("workload")),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	samples := make([]Sample, 0, cfg.Ticks)
	var live []liveBlock

	for tick := 0; tick < cfg.Ticks; tick++ {
		select {
		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("workload run canceled")
			return samples, ctx.Err()
		default:
		}

		poissonSleep(rng, cfg.ArrivalRate) // draw is discarded; no real sleep occurs

		s := Sample{Tick: tick}
		if len(live) > 0 && rng.Float64() < cfg.FreeProbability {
			n := rng.Intn(len(live))
			freeBlock(a, live[n])
			live = append(live[:n], live[n+1:]...)
		} else {
			g := granularityFor(rng, pSmall, pBig)
			idx, ok := allocateBlock(a, g)
			s.AllocateAttempted = true
			s.AllocateSucceeded = ok
			s.Granularity = g
			if ok {
				live = append(live, liveBlock{idx: idx, granularity: g})
			} else {
				log.WithField("granularity", g).Debug("allocation exhausted")
			}
		}

		s.FreeHuge, s.FreeBig, s.FreeSmall = a.StatFreeMemory()
		s.FreeBigByHugeSlot = a.FreeBigCountsByHugeSlot()
		samples = append(samples, s)
		if pbar != nil {
			pbar.Increment()
		}
	}
	if bar != nil {
		bar.Wait()
	}

	if err := a.CheckIntegrity(); err != nil {
		return samples, errors.Wrap(err, "driver: post-run integrity check failed")
	}
	log.Info("workload run complete")
	return samples, nil
}

// poissonSleep draws an exponentially distributed inter-arrival gap from
// rate (the Poisson process's natural complement) and discards it; the
// driver is a pure simulation and has no wall-clock to block on. The
// draw's only effect is to advance the shared rng stream by one value,
// which shifts the later choices a given seed produces; the value of rate
// itself does not change them.
func poissonSleep(rng *rand.Rand, rate float64) {
	if rate <= 0 {
		return
	}
	_ = -math.Log(1-rng.Float64()) / rate
}

func granularityFor(rng *rand.Rand, pSmall, pBig float64) pageheap.PageTag {
	switch r := rng.Float64(); {
	case r < pSmall:
		return pageheap.PageSmall
	case r < pSmall+pBig:
		return pageheap.PageBig
	default:
		return pageheap.PageHuge
	}
}

func allocateBlock(a *pageheap.Allocator, g pageheap.PageTag) (uint32, bool) {
	switch g {
	case pageheap.PageSmall:
		return a.AllocateSmall()
	case pageheap.PageBig:
		return a.AllocateBig()
	default:
		return a.AllocateHuge()
	}
}

func freeBlock(a *pageheap.Allocator, b liveBlock) {
	switch b.granularity {
	case pageheap.PageSmall:
		a.DeallocateSmall(b.idx)
	case pageheap.PageBig:
		a.DeallocateBig(b.idx)
	default:
		a.DeallocateHuge(b.idx)
	}
}
