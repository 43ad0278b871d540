package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagDebug   bool
)

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log.SetLevel(logrus.WarnLevel)
		if flagDebug {
			log.SetLevel(logrus.DebugLevel)
		} else if flagVerbose {
			log.SetLevel(logrus.InfoLevel)
		}
		return nil
	}

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(compactCmd)
}

var rootCmd = &cobra.Command{
	Use:   "sfvfsctl",
	Short: "Inspect and manipulate single-file virtual filesystem containers",
	Long: `sfvfsctl provides a command-line interface for creating, populating,
and inspecting single-file virtual filesystem containers.`,
}
