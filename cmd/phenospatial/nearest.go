package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
	"github.com/atlasmap-sc/phenospatial/internal/data/cellseg"
	"github.com/atlasmap-sc/phenospatial/internal/service"
)

// nearestSuffix names the per-field tables written in directory mode.
const nearestSuffix = "_nearest_neighbors.txt"

type nearestOptions struct {
	File       string
	Dir        string
	Phenotypes []string
	Out        string
	OutDir     string
	Workers    int
}

func newNearestCommand(rt *runtime) *cobra.Command {
	opts := &nearestOptions{}

	cmd := &cobra.Command{
		Use:   "nearest",
		Short: "Distance from every cell to the nearest cell of each phenotype",
		Long: "nearest writes, for every cell, the distance to and ID of the nearest\n" +
			"other cell of each target phenotype. Without --phenotype every phenotype\n" +
			"present in the field is a target.\n\n" +
			"With --file one table is written to --out or stdout. With --dir every\n" +
			"field file is processed and each table is written to --out-dir as\n" +
			"<field>" + nearestSuffix + ".",
		Example: "  phenospatial nearest --file data/s1_cell_seg_data.txt --phenotype CD8+ --phenotype 'T cell'\n" +
			"  phenospatial nearest --dir data --out-dir results --workers 4",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Dir != "" {
				return runNearestDir(cmd, rt, opts)
			}
			return runNearest(cmd, rt, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.File, "file", "", "field file (*cell_seg_data.txt, optionally .gz or .zst)")
	f.StringVar(&opts.Dir, "dir", "", "directory of field files, one table per field")
	f.StringArrayVar(&opts.Phenotypes, "phenotype", nil, "target selector (repeatable)")
	f.StringVarP(&opts.Out, "out", "o", "", "output file for --file (default: stdout)")
	f.StringVar(&opts.OutDir, "out-dir", "", "output directory for --dir (default: the input directory)")
	f.IntVar(&opts.Workers, "workers", 0, "fields processed concurrently with --dir (default: engine.workers from config)")
	cmd.MarkFlagsMutuallyExclusive("file", "dir")
	cmd.MarkFlagsOneRequired("file", "dir")

	return cmd
}

func (rt *runtime) resolveTargets(phenotypes []string) ([]cells.Predicate, error) {
	if err := rt.rules.Validate(); err != nil {
		return nil, err
	}
	var targets []cells.Predicate
	for _, p := range phenotypes {
		sel, err := parseSelector(p)
		if err != nil {
			return nil, err
		}
		pred, err := rt.rules.Resolve(sel)
		if err != nil {
			return nil, err
		}
		targets = append(targets, pred)
	}
	return targets, nil
}

func runNearest(cmd *cobra.Command, rt *runtime, opts *nearestOptions) error {
	targets, err := rt.resolveTargets(opts.Phenotypes)
	if err != nil {
		return err
	}

	ps, err := cellseg.ReadFile(opts.File, rt.readOptions())
	if err != nil {
		return err
	}

	sopts, err := rt.serviceOptions(nil)
	if err != nil {
		return err
	}
	rows, err := service.NearestNeighbors(ps, targets, sopts)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(cmd, opts.Out)
	if err != nil {
		return err
	}
	if err := service.WriteNearestTable(w, rows); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func runNearestDir(cmd *cobra.Command, rt *runtime, opts *nearestOptions) error {
	targets, err := rt.resolveTargets(opts.Phenotypes)
	if err != nil {
		return err
	}
	paths, err := cellseg.ListFieldFiles(opts.Dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no cell_seg_data files in %s", opts.Dir)
	}

	outDir := opts.OutDir
	if outDir == "" {
		outDir = opts.Dir
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = rt.cfg.Engine.Workers
	}
	sopts, err := rt.serviceOptions(nil)
	if err != nil {
		return err
	}

	failed := 0
	results := service.NearestNeighborsFiles(paths, cellseg.Loader(rt.readOptions()), targets, workers, sopts)
	for _, res := range results {
		if res.Err != nil {
			failed++
			continue
		}
		name := filepath.Join(outDir, cellseg.FieldNameFromPath(res.Source)+nearestSuffix)
		if err := writeNearestFile(name, res.Rows); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d fields failed", failed, len(paths))
	}
	return nil
}

func writeNearestFile(path string, rows []service.NearestRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := service.WriteNearestTable(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
