// Copyright 2024 The vmxvmm-report Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pagedriver runs a stochastic workload against a pageheap
// allocator and reports the results as CSV and a fragmentation heatmap.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Walterieux/vmxvmm-report/internal/driver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("pagedriver failed")
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "pagedriver",
		Short: "Drive a stochastic allocate/deallocate workload against a pageheap allocator",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a workload and write CSV/PNG reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(cmd.Context(), v)
		},
	}

	flags := run.Flags()
	flags.Int("gib", 8, "gigabytes of address space to manage")
	flags.Int("ticks", 10000, "number of simulated arrivals")
	flags.Float64("arrival-rate", 4.0, "Poisson arrival rate per tick")
	flags.Float64("p-small", 0.7, "Bernoulli weight for small-page allocations")
	flags.Float64("p-big", 0.25, "Bernoulli weight for big-page allocations")
	flags.Float64("p-huge", 0.05, "Bernoulli weight for huge-page allocations")
	flags.Float64("free-probability", 0.3, "chance per tick of freeing a live block instead of allocating")
	flags.Int64("seed", 0, "RNG seed; 0 selects an arbitrary seed")
	flags.Bool("progress", true, "show a live progress bar")
	flags.String("csv-out", "report.csv", "path to write the per-tick CSV report")
	flags.String("heatmap-out", "heatmap.png", "path to write the fragmentation heatmap PNG")

	if err := v.BindPFlags(flags); err != nil {
		logrus.WithError(err).Fatal("binding flags")
	}
	v.SetEnvPrefix("PAGEDRIVER")
	v.AutomaticEnv()

	root.AddCommand(run)
	return root
}

func runWorkload(ctx context.Context, v *viper.Viper) error {
	cfg := driver.Config{
		GiB:             v.GetInt("gib"),
		Ticks:           v.GetInt("ticks"),
		ArrivalRate:     v.GetFloat64("arrival-rate"),
		PSmall:          v.GetFloat64("p-small"),
		PBig:            v.GetFloat64("p-big"),
		PHuge:           v.GetFloat64("p-huge"),
		FreeProbability: v.GetFloat64("free-probability"),
		Seed:            v.GetInt64("seed"),
		ShowProgress:    v.GetBool("progress"),
	}

	samples, err := driver.Run(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "running workload")
	}

	if path := v.GetString("csv-out"); path != "" {
		if err := driver.WriteCSVFile(path, samples); err != nil {
			return errors.Wrap(err, "writing CSV report")
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", path)
	}
	if path := v.GetString("heatmap-out"); path != "" {
		if err := driver.WriteHeatmapPNG(path, samples); err != nil {
			return errors.Wrap(err, "writing heatmap report")
		}
		fmt.Fprintf(os.Stdout, "wrote %s\n", path)
	}
	return nil
}
