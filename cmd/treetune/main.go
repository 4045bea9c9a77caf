// Command treetune tunes tree classifiers on a tabular dataset with
// stratified cross-validation and evaluates the best one on a held-out
// split.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imdad19/treetune/config"
	"github.com/imdad19/treetune/pkg/log"
)

var (
	version = "dev"

	rootCmd = &cobra.Command{
		Use:           "treetune",
		Short:         "Cross-validated hyperparameter tuning for tree classifiers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetupLogger(level.String())
			log.SetGlobalProvider(log.NewZerologProviderWithWriter(cmd.ErrOrStderr(), level))
			return nil
		},
	}

	configPath string
	dataPath   string
	labelName  string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "experiment YAML file (defaults to the built-in loans experiment)")
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", "", "dataset file (.csv, .json, optionally .xz), overrides dataset.path")
	rootCmd.PersistentFlags().StringVar(&labelName, "label", "", "label column, overrides dataset.label")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(tuneCmd, splitCmd, gridCmd, versionCmd)
}

// loadExperiment reads --config and applies the global flag overrides.
func loadExperiment() (*config.Experiment, error) {
	exp := config.Default()
	if configPath != "" {
		var err error
		if exp, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if dataPath != "" {
		exp.Dataset.Path = dataPath
	}
	if labelName != "" {
		exp.Dataset.Label = labelName
	}
	return exp, exp.Validate()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("treetune failed", log.ErrAttr(err))
		stop()
		os.Exit(1)
	}
}
