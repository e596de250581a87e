// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"encoding/csv"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/Walterieux/vmxvmm-report/pageheap"
)

// WriteCSV writes one row per sample (tick, free huge/big/small counts,
// and whether that tick's allocation attempt succeeded) to w.
func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	header := []string{"tick", "free_huge", "free_big", "free_small", "allocate_attempted", "allocate_succeeded", "granularity"}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "driver: writing CSV header")
	}
	for _, s := range samples {
		row := []string{
			strconv.Itoa(s.Tick),
			strconv.FormatUint(s.FreeHuge, 10),
			strconv.FormatUint(s.FreeBig, 10),
			strconv.FormatUint(s.FreeSmall, 10),
			strconv.FormatBool(s.AllocateAttempted),
			strconv.FormatBool(s.AllocateSucceeded),
			s.Granularity.String(),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrapf(err, "driver: writing CSV row for tick %d", s.Tick)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "driver: flushing CSV writer")
}

// WriteCSVFile is a convenience wrapper around WriteCSV for a file path.
func WriteCSVFile(path string, samples []Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "driver: creating %s", path)
	}
	defer f.Close()
	return WriteCSV(f, samples)
}

// WriteHeatmapPNG renders a spatial fragmentation map: one 4x4-pixel cell
// per huge-page slot (rows) and sampled tick (columns), shaded by that
// slot's free big-page count at that tick (pure blue fully free, pure red
// fully consumed). This is the spatial counterpart to WriteCSV's
// aggregate time series — it shows where fragmentation sits across the
// managed address space, not just how much free capacity remains in
// total.
func WriteHeatmapPNG(path string, samples []Sample) error {
	if len(samples) == 0 {
		return errors.New("driver: no samples to render")
	}
	gib := len(samples[0].FreeBigByHugeSlot)
	if gib == 0 {
		return errors.New("driver: samples carry no per-slot data")
	}
	const cellW, cellH = 4, 4
	width := len(samples) * cellW
	height := gib * cellH

	dc := gg.NewContext(width, height)
	dc.SetColor(color.Black)
	dc.Clear()

	for col, s := range samples {
		for slot, freeBig := range s.FreeBigByHugeSlot {
			frac := float64(freeBig) / float64(pageheap.BigPerHuge)
			drawCell(dc, col*cellW, slot*cellH, cellW, cellH, frac)
		}
	}

	if err := dc.SavePNG(path); err != nil {
		return errors.Wrapf(err, "driver: saving heatmap to %s", path)
	}
	return nil
}

func drawCell(dc *gg.Context, x, y, w, h int, frac float64) {
	frac = math.Max(0, math.Min(1, frac))
	dc.SetRGB(1-frac, 0, frac)
	dc.DrawRectangle(float64(x), float64(y), float64(w), float64(h))
	dc.Fill()
}
