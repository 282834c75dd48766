package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teranos/cronctl/cmd/cronctl/commands"
	"github.com/teranos/cronctl/logger"
	"github.com/teranos/cronctl/sym"
)

var rootCmd = &cobra.Command{
	Use:   "cronctl",
	Short: "cronctl - keeps a scheduled-job queue consistent with its job registry",
	Long: `cronctl - reconciliation engine for a persistent scheduled-job queue.

cronctl keeps recurring internal jobs queued exactly once on their declared
cadence, repairs cadence drift, recovers entities whose publication time
passed without being acted on, and purges completed history.

Examples:
  cronctl am show               # Show current configuration
  cronctl pulse start           # Start the daemon
  cronctl pulse run converge    # Run one pass and exit
  cronctl queue ls              # List pending entries`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' output is meant to be piped, keep it free of log lines
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.EntityCmd)
	rootCmd.AddCommand(commands.VersionCmd)

	rootCmd.Long += "\n\nAvailable commands:\n" + commandSummary()
}

// commandSummary lists the glyph-carrying commands for the root help text.
func commandSummary() string {
	var b strings.Builder
	for _, name := range sym.Commands {
		fmt.Fprintf(&b, "  %s%-7s %s\n", sym.Prefix(name), name, sym.CommandDescriptions[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

// resolveGlyph lets a segment glyph stand in for its command, so
// "cronctl ꩜ run converge" behaves like "cronctl pulse run converge".
func resolveGlyph(args []string) []string {
	if len(args) == 0 {
		return args
	}
	if name, ok := sym.SymbolToCommand[args[0]]; ok {
		return append([]string{name}, args[1:]...)
	}
	return args
}

func main() {
	rootCmd.SetArgs(resolveGlyph(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
