// Package seed parses seed command flags and runs the development data
// generator.
package seed

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dndtoolbox/toolbox/internal/tools/seed"
)

// Config holds seed command configuration.
type Config struct {
	SeedConfig seed.Config
	List       bool
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	seedCfg := seed.DefaultConfig()
	seedCfg.DBPath = envOrDefault(lookup, []string{"DNDTOOLBOX_MAPSESSION_DB_PATH"}, seedCfg.DBPath)
	var list bool
	var preset string

	fs.StringVar(&seedCfg.DBPath, "db-path", seedCfg.DBPath, "SQLite database path")
	fs.StringVar(&preset, "preset", string(seedCfg.Preset), "generation preset (demo, variety, stress-test)")
	fs.Int64Var(&seedCfg.Seed, "seed", 0, "random seed for reproducibility (0 = random)")
	fs.IntVar(&seedCfg.Campaigns, "campaigns", 0, "number of campaigns to generate (0 = use preset default)")
	fs.BoolVar(&seedCfg.Verbose, "v", false, "verbose output")
	fs.BoolVar(&list, "list", false, "list available presets")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	seedCfg.Preset = seed.Preset(strings.TrimSpace(preset))

	return Config{SeedConfig: seedCfg, List: list}, nil
}

// Run executes the seed command.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if cfg.List {
		fmt.Fprintln(out, "Available presets:")
		fmt.Fprintln(out, "  demo        - One campaign with a full party and two maps")
		fmt.Fprintln(out, "  variety     - Six campaigns with open and closed maps")
		fmt.Fprintln(out, "  stress-test - Forty campaigns with crowded open maps")
		return nil
	}
	if err := seed.ValidatePreset(cfg.SeedConfig.Preset); err != nil {
		return err
	}
	return seed.Run(ctx, cfg.SeedConfig, out)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
