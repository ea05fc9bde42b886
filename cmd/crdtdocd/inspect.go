package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/automerge/automerge-sub002/document"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Print summary stats for one or more saved document blobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args)
		},
	}
	return cmd
}

type inspectResult struct {
	path  string
	stats document.Stats
}

// runInspect loads every named file concurrently (each file is an
// independent decode with no shared state) and prints results in
// input order once all have finished.
func runInspect(paths []string) error {
	results := make([]inspectResult, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			doc, err := document.Load(data, document.LoadOptions{})
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			results[i] = inspectResult{path: p, stats: doc.Stats()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s: changes=%d ops=%d engine=%s/%s\n",
			r.path, r.stats.NumChanges, r.stats.NumOps, r.stats.EngineName, r.stats.EngineVersion)
	}
	return nil
}
