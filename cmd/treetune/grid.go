package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/imdad19/treetune/config"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
)

var (
	gridCmd = &cobra.Command{
		Use:   "grid",
		Short: "Print the configurations generated for a family",
		Args:  cobra.NoArgs,
		RunE:  runGrid,
	}

	gridFamily string
	gridSize   int
	gridMode   string
	gridSeed   uint64
)

func init() {
	gridCmd.Flags().StringVar(&gridFamily, "family", "", "model family (defaults to every family in the experiment)")
	gridCmd.Flags().IntVar(&gridSize, "size", 0, "grid size, overrides the experiment")
	gridCmd.Flags().StringVar(&gridMode, "mode", "", "random, exhaustive or regular, overrides the experiment")
	gridCmd.Flags().Uint64Var(&gridSeed, "seed", 0, "sampling seed, overrides the experiment")
}

func runGrid(cmd *cobra.Command, args []string) error {
	exp, err := loadExperiment()
	if err != nil {
		return err
	}

	models := exp.Models
	if gridFamily != "" {
		models = nil
		for _, m := range exp.Models {
			if m.Family == gridFamily {
				models = append(models, m)
			}
		}
		if len(models) == 0 {
			models = []config.ModelConfig{{Family: gridFamily, Mode: "random", Size: 10}}
		}
	}

	out := make(map[string][]model_selection.ModelSpec, len(models))
	for _, m := range models {
		if cmd.Flags().Changed("size") {
			m.Size = gridSize
		}
		if gridMode != "" {
			m.Mode = gridMode
		}
		if cmd.Flags().Changed("seed") {
			m.Seed = gridSeed
		}
		grid, err := m.Grid()
		if err != nil {
			return errors.Wrapf(err, "grid for %s", m.Family)
		}
		out[m.Family] = grid
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
