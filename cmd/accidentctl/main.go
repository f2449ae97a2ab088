// Package main provides the accidentctl operator CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/accident-engine/config"
	"github.com/warp/accident-engine/generic"
	"github.com/warp/accident-engine/lagging"
	"github.com/warp/accident-engine/logging"
	"github.com/warp/accident-engine/sequence"
	"github.com/warp/accident-engine/store/postgres"
	"github.com/warp/accident-engine/store/sqlite"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	dbPath     string
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:   "accidentctl",
		Short: "Operate accident code counters and lagging indicators",
		Long: `accidentctl formats and parses accident codes, inspects and overrides
sequence counters, and prints lagging indicator summaries straight from the
database, without going through the HTTP server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "accident-engine.yaml", "YAML config path")

	rootCmd.AddCommand(
		newCodeCmd(),
		newSequenceCmd(opts),
		newSummaryCmd(opts),
	)
	return rootCmd
}

// engine bundles the components a command needs. close releases the store.
type engine struct {
	cfg       *config.Config
	store     generic.Store
	allocator *sequence.Allocator
	cache     *lagging.Cache
	close     func() error
}

func (o *globalOpts) open(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = o.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store   generic.Store
		closeFn func() error
	)
	switch cfg.Database.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		store, closeFn = s, s.Close
	default:
		s, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		store, closeFn = s, s.Close
	}

	logger := logging.NewThrottled(logging.New(logging.Options{Level: cfg.Log.Level, Format: "text", Output: os.Stderr}))
	alloc, err := sequence.NewAllocator(store, sequence.WithLogger(logger))
	if err != nil {
		closeFn()
		return nil, err
	}
	agg := lagging.NewAggregator(store, store,
		lagging.WithDefaultConstant(cfg.Lagging.DefaultConstant),
		lagging.WithAggregatorLogger(logger))
	cache := lagging.NewCache(agg,
		lagging.WithAllowedConstants(cfg.Lagging.AllowedConstants),
		lagging.WithExactRecount(cfg.Lagging.ExactRecount),
		lagging.WithCacheLogger(logger))

	return &engine{cfg: cfg, store: store, allocator: alloc, cache: cache, close: closeFn}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
