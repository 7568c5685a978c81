package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qbatch",
		Short: "qbatch - batch question runner for QA answer services",
		Long: `qbatch drives a list of natural-language questions through a QA answer
service in concurrent waves, retries weak answers, correlates service log
growth per wave, optionally scores answers against expected answers, and
keeps crash-recoverable snapshots of every run.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newHistoryCommand())
	cmd.AddCommand(newExportCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}
