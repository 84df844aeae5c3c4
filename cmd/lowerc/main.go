package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lowerc/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "lowerc",
	Short:         "Lower typed AST modules to LLVM IR",
	Long:          `lowerc turns type-checked AST modules into textual LLVM IR, one .ll file per module.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// main registers subcommands and persistent flags, then executes the root
// command. Any command error exits with status 1.
func main() {
	// Устанавливаем версию для автоматического флага --version
	rootCmd.Version = version.Version

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(dumpASTCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	addPersistentFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addPersistentFlags registers the global flags on root.
func addPersistentFlags(root *cobra.Command) {
	// Глобальные флаги
	pf := root.PersistentFlags()
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("timings", false, "show timing information")
	pf.Int("max-diagnostics", 100, "maximum number of diagnostics to show")
	pf.String("trace", "", "trace output file (\"-\" for stderr, *.ndjson for NDJSON)")
	pf.String("trace-level", "", "trace level (off|error|phase|detail|debug)")
	pf.String("trace-mode", "", "trace storage (stream|ring|both)")
	pf.String("trace-format", "auto", "trace format (auto|text|ndjson)")
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
