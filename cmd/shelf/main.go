package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:           "shelf",
	Short:         "A personal library of math study materials",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stderr.Fd()) {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(addLinkCmd, uploadCmd, listCmd, showCmd, rmCmd, downloadCmd, previewCmd)
	rootCmd.AddCommand(exportCmd, importCmd, pushCmd, pullCmd, tokenCmd, remoteCmd)
	rootCmd.AddCommand(configCmd, serveCmd, mcpCmd, stopCmd, statusCmd)
}

// setupLogging installs a tint handler on stderr. Unknown levels fall back
// to info.
func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
		NoColor:    noColor || !isatty.IsTerminal(os.Stderr.Fd()),
	})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		fmt.Fprintln(os.Stderr, "Run 'shelf --help' for usage.")
		os.Exit(1)
	}
}
