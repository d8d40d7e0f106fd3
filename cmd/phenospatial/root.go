package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/phenospatial/internal/cache"
	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/config"
	"github.com/atlasmap-sc/phenospatial/internal/data/cellseg"
	"github.com/atlasmap-sc/phenospatial/internal/distance"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/metrics"
	"github.com/atlasmap-sc/phenospatial/internal/service"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Strategy   string
	RulesPath  string
}

// runtime carries what PersistentPreRunE initialized to the subcommands.
type runtime struct {
	cfg    *config.Config
	logger logging.Logger
	rules  cells.Rules
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rt := &runtime{}

	cmd := &cobra.Command{
		Use:   "phenospatial",
		Short: "Nearest-neighbour and radius-count statistics for phenotyped cells",
		Long: "phenospatial reads per-field cell segmentation tables and computes, for\n" +
			"labelled cell phenotypes, the distance to the nearest cell of each\n" +
			"phenotype and the number of cells within given radii.",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init(opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "config/phenospatial.yaml", "config file path")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	pf.StringVar(&opts.Strategy, "strategy", "", "distance strategy (auto, dense, indexed); overrides config.\n"+
		"dense holds an n×n float64 matrix per field (about 7 GB at 30,000 cells)")
	pf.StringVar(&opts.RulesPath, "rules", "", "YAML file of selection rules, merged over the config rules")

	cmd.AddCommand(
		newServeCommand(rt),
		newCountCommand(rt),
		newNearestCommand(rt),
	)
	return cmd
}

func (rt *runtime) init(opts *rootOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Strategy != "" {
		if _, err := distance.ParseStrategy(opts.Strategy); err != nil {
			return err
		}
		cfg.Engine.Strategy = opts.Strategy
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	rules := cfg.Rules.Selectors()
	if opts.RulesPath != "" {
		extra, err := config.LoadRules(opts.RulesPath)
		if err != nil {
			return err
		}
		merged := make(cells.Rules, len(rules)+len(extra))
		for k, v := range rules {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		rules = merged
	}

	rt.cfg = cfg
	rt.logger = logger
	rt.rules = rules
	return nil
}

// serviceOptions builds the query options from the loaded configuration.
func (rt *runtime) serviceOptions(rec *metrics.Recorder) (service.Options, error) {
	dopts, err := rt.cfg.Engine.DistanceOptions()
	if err != nil {
		return service.Options{}, err
	}
	dopts.Logger = rt.logger
	return service.Options{
		Distance: dopts,
		Cache:    cache.Config{MaskCacheSize: rt.cfg.Engine.MaskCacheSize},
		Logger:   rt.logger,
		Metrics:  rec,
	}, nil
}

func (rt *runtime) readOptions() cellseg.Options {
	return cellseg.Options{PixelsPerMicron: rt.cfg.Data.PixelsPerMicron}
}

// parseSelector reads a command-line selector. "a|b" selects any of the
// listed phenotypes; a single name is a phenotype, or a rule when one of
// that name is defined.
func parseSelector(s string) (cells.Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cells.Selector{}, fmt.Errorf("empty selector")
	}
	if !strings.Contains(s, "|") {
		return cells.Phenotype(s), nil
	}
	var names []string
	for _, n := range strings.Split(s, "|") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return cells.Selector{}, fmt.Errorf("selector %q names no phenotypes", s)
	}
	return cells.AnyOf(names...), nil
}

// parsePair reads a FROM:TO pair.
func parsePair(s string) (service.Pair, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return service.Pair{}, fmt.Errorf("pair %q: expected FROM:TO", s)
	}
	fromSel, err := parseSelector(from)
	if err != nil {
		return service.Pair{}, fmt.Errorf("pair %q: %w", s, err)
	}
	toSel, err := parseSelector(to)
	if err != nil {
		return service.Pair{}, fmt.Errorf("pair %q: %w", s, err)
	}
	return service.Pair{From: fromSel, To: toSel}, nil
}

// openOutput returns the writer for --out, falling back to the command's
// standard output.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}
