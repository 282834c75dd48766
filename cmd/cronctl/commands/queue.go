package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/queue"
	"github.com/teranos/cronctl/sym"
)

// QueueCmd represents the queue command
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: sym.DB + " Inspect pending queue entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var queueLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List pending entries, earliest first",
	RunE:    runQueueLs,
}

func init() {
	queueLsCmd.Flags().IntP("limit", "n", 50, "Maximum entries to show")
	queueLsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	QueueCmd.AddCommand(queueLsCmd)
}

func runQueueLs(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := queue.NewSQLiteStore(database, clock.Real{}).ListPending(cmd.Context(), limit)
	if err != nil {
		return errors.Wrap(err, "failed to list pending entries")
	}
	return printEntries(cmd.OutOrStdout(), entries, jsonOutput)
}

func printEntries(w io.Writer, entries []*queue.Entry, jsonOutput bool) error {
	if jsonOutput {
		if entries == nil {
			entries = []*queue.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal entries")
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No pending entries")
		return nil
	}

	data := pterm.TableData{{"Timestamp", "Action", "Cadence", "Interval", "Args", "ID"}}
	for _, e := range entries {
		cadence := e.Cadence
		if cadence == "" {
			cadence = "-"
		}
		interval := "-"
		if e.Interval > 0 {
			interval = (time.Duration(e.Interval) * time.Second).String()
		}
		data = append(data, []string{
			e.Timestamp.Format(time.RFC3339),
			e.Action,
			cadence,
			interval,
			strings.Join(e.Args, " "),
			e.ID,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}
