package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/model_selection"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Show the train/test split and the fold sizes",
	Args:  cobra.NoArgs,
	RunE:  runSplit,
}

func runSplit(cmd *cobra.Command, args []string) error {
	exp, err := loadExperiment()
	if err != nil {
		return err
	}
	ds, _, err := exp.LoadDataset()
	if err != nil {
		return err
	}
	split, err := model_selection.TrainTestSplit(ds, exp.Split.TrainFraction, exp.Split.Seed)
	if err != nil {
		return err
	}
	folds, err := model_selection.StratifiedKFold(split.Train, exp.Split.Folds, exp.Split.Seed)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "PART\tRECORDS\t%s\n", classHeader(ds))
	fmt.Fprintf(w, "all\t%d\t%s\n", ds.Len(), classShares(ds))
	fmt.Fprintf(w, "train\t%d\t%s\n", split.Train.Len(), classShares(split.Train))
	fmt.Fprintf(w, "test\t%d\t%s\n", split.Test.Len(), classShares(split.Test))
	for _, f := range folds {
		fmt.Fprintf(w, "fold %d\t%d\t%s\n", f.Index, f.Validation.Len(), classShares(f.Validation))
	}
	return w.Flush()
}

func classHeader(ds *dataset.Dataset) string {
	return fmt.Sprintf("%s=%s\t%s=%s", ds.Schema.Label, ds.Classes[0], ds.Schema.Label, ds.Classes[1])
}

func classShares(ds *dataset.Dataset) string {
	counts := ds.ClassCounts()
	out := ""
	for i, c := range ds.Classes {
		if i > 0 {
			out += "\t"
		}
		out += fmt.Sprintf("%d (%.1f%%)", counts[c], 100*float64(counts[c])/float64(ds.Len()))
	}
	return out
}
