package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/api"
	"github.com/samcharles93/strata/internal/logger"
	"github.com/samcharles93/strata/internal/model"
)

func benchCmd() *cli.Command {
	var (
		configFile string
		layers     int64
		batch      int64
		seq        int64
		steps      int64
		seed       int64
		logLevel   string
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Benchmark decoder layer forward passes with synthetic weights",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "path to a layer config.json (defaults to the built-in config)",
				Destination: &configFile,
			},
			&cli.Int64Flag{Name: "layers", Value: 2, Usage: "number of decoder layers", Destination: &layers},
			&cli.Int64Flag{Name: "batch", Value: 1, Usage: "batch size", Destination: &batch},
			&cli.Int64Flag{Name: "seq", Value: 16, Usage: "prefill length", Destination: &seq},
			&cli.Int64Flag{Name: "steps", Value: 8, Usage: "decode steps after prefill", Destination: &steps},
			&cli.Int64Flag{Name: "seed", Value: 1, Usage: "weight seed", Destination: &seed},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", Destination: &logLevel},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			fileCfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
			applyBenchConfig(c, fileCfg, &layers, &batch, &seq, &steps, &seed)
			if fileCfg.LogLevel != "" && !c.IsSet("log-level") {
				logLevel = fileCfg.LogLevel
			}
			log := logger.Pretty(os.Stderr, logger.ParseLevel(logLevel))

			cfg := api.DefaultBenchConfig()
			if configFile != "" {
				raw, err := os.ReadFile(configFile)
				if err != nil {
					return fmt.Errorf("read layer config: %w", err)
				}
				cfg, err = model.LoadLayerConfig(raw)
				if err != nil {
					return err
				}
			}

			req := &api.BenchRequest{
				Layers: int(layers),
				Batch:  int(batch),
				Seq:    int(seq),
				Steps:  int(steps),
				Seed:   seed,
			}
			log.Info("building model",
				"layers", req.Layers,
				"hidden_size", cfg.HiddenSize,
				"routed_experts", cfg.NumRoutedExperts)

			resp, err := api.RunBench(logger.WithContext(ctx, log), cfg, req)
			if err != nil {
				return err
			}

			log.Info("bench complete", "id", resp.ID)
			fmt.Printf("prefill: %d tokens in %.3fs\n", req.Batch*req.Seq, resp.PrefillSeconds)
			fmt.Printf("decode:  %d steps in %.3fs\n", req.Steps, resp.TotalSeconds-resp.PrefillSeconds)
			fmt.Printf("overall: %.1f tokens/s\n", resp.TokensPerSecond)
			return nil
		},
	}
}

func applyBenchConfig(c *cli.Command, cfg Config, layers, batch, seq, steps, seed *int64) {
	if cfg.Layers != nil && !c.IsSet("layers") {
		*layers = *cfg.Layers
	}
	if cfg.Batch != nil && !c.IsSet("batch") {
		*batch = *cfg.Batch
	}
	if cfg.Seq != nil && !c.IsSet("seq") {
		*seq = *cfg.Seq
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}
