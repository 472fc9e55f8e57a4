package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "khanflow",
	Short:   "khanflow — conversational capture of tasks and events",
	Version: version,
	Long: `khanflow turns short voice or text exchanges into tasks, calendar
events and recurring tasks in your productivity apps. The server keeps
multi-turn conversations alive until everything needed is captured,
asks for what's missing, and executes once you confirm.`,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(abandonCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
