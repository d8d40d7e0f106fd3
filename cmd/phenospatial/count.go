package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/phenospatial/internal/data/cellseg"
	"github.com/atlasmap-sc/phenospatial/internal/logging"
	"github.com/atlasmap-sc/phenospatial/internal/service"
)

type countOptions struct {
	Dir        string
	Files      []string
	Pairs      []string
	Radii      []float64
	Categories []string
	Workers    int
	Out        string
}

func newCountCommand(rt *runtime) *cobra.Command {
	opts := &countOptions{}

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count cells within radii for phenotype pairs over many fields",
		Long: "count reads every field file in --dir (or the given --file paths) and,\n" +
			"for each category and FROM:TO pair, counts TO cells within each radius\n" +
			"of every FROM cell. Rows are written as a tab-separated table.\n" +
			"A selector is a phenotype or rule name, or \"a|b\" for any of several.",
		Example: "  phenospatial count --dir data --pair 'CD8+:CK+' --pair 'T cell:CK+|CD68+' --radius 10 --radius 25 --category Tumor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, rt, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Dir, "dir", "", "directory of *cell_seg_data.txt files (default: data.dir from config)")
	f.StringArrayVar(&opts.Files, "file", nil, "field file to process (repeatable); overrides --dir")
	f.StringArrayVar(&opts.Pairs, "pair", nil, "FROM:TO selector pair (repeatable)")
	f.Float64SliceVar(&opts.Radii, "radius", nil, "radius in microns (repeatable)")
	f.StringArrayVar(&opts.Categories, "category", nil, "tissue category (repeatable); omit for all cells")
	f.IntVar(&opts.Workers, "workers", 0, "fields processed concurrently (default: engine.workers from config)")
	f.StringVarP(&opts.Out, "out", "o", "", "output file (default: stdout)")
	_ = cmd.MarkFlagRequired("pair")
	_ = cmd.MarkFlagRequired("radius")

	return cmd
}

func runCount(cmd *cobra.Command, rt *runtime, opts *countOptions) error {
	paths := opts.Files
	if len(paths) == 0 {
		dir := opts.Dir
		if dir == "" {
			dir = rt.cfg.Data.Dir
		}
		var err error
		if paths, err = cellseg.ListFieldFiles(dir); err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no cell_seg_data files in %s", dir)
		}
	}

	req := service.BatchRequest{
		Radii:      opts.Radii,
		Categories: opts.Categories,
		Rules:      rt.rules,
		Workers:    opts.Workers,
	}
	if req.Workers <= 0 {
		req.Workers = rt.cfg.Engine.Workers
	}
	for _, p := range opts.Pairs {
		pair, err := parsePair(p)
		if err != nil {
			return err
		}
		req.Pairs = append(req.Pairs, pair)
	}

	sopts, err := rt.serviceOptions(nil)
	if err != nil {
		return err
	}
	res, err := service.CountWithinFiles(paths, cellseg.Loader(rt.readOptions()), req, sopts)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(cmd, opts.Out)
	if err != nil {
		return err
	}
	if err := service.WriteCountTable(w, res.Rows); err != nil {
		closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return err
	}

	if res.Failed() {
		for _, f := range res.Failures {
			rt.logger.Error("field failed", logging.String("source", f.Source), logging.Err(f.Err))
		}
		return fmt.Errorf("%d of %d fields failed (run %s)", len(res.Failures), len(paths), res.RunID)
	}
	return nil
}
