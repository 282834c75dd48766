package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/pulse/clock"
	"github.com/teranos/cronctl/pulse/entity"
	"github.com/teranos/cronctl/sym"
)

// EntityCmd represents the entity command
var EntityCmd = &cobra.Command{
	Use:   "entity",
	Short: sym.AT + " Schedule and list entities with a desired execution time",
	Long: sym.AT + ` Entities carry their own desired execution time, e.g. a post
scheduled for future publication. The missed and confirm passes keep the
queue in step with them.

Examples:
  cronctl entity add post-42 --at 2026-11-01T09:00:00Z
  cronctl entity add post-43 --in 90m
  cronctl entity ls --status scheduled`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var entityAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Schedule an entity, or move an existing one",
	Args:  cobra.ExactArgs(1),
	RunE:  runEntityAdd,
}

var entityLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List entities by desired time",
	RunE:    runEntityLs,
}

func init() {
	entityAddCmd.Flags().String("at", "", "Desired time (RFC3339)")
	entityAddCmd.Flags().Duration("in", 0, "Desired time relative to now (e.g. 90m)")
	entityAddCmd.MarkFlagsMutuallyExclusive("at", "in")
	entityAddCmd.MarkFlagsOneRequired("at", "in")

	entityLsCmd.Flags().String("status", "", "Filter by status (scheduled, finalized)")
	entityLsCmd.Flags().IntP("limit", "n", 50, "Maximum entities to show")
	entityLsCmd.Flags().BoolP("json", "j", false, "Output as JSON")

	EntityCmd.AddCommand(entityAddCmd)
	EntityCmd.AddCommand(entityLsCmd)
}

// desiredTime resolves --at / --in against now
func desiredTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, errors.WithHint(
				errors.Wrapf(err, "invalid --at %q", at),
				"use RFC3339, e.g. 2026-11-01T09:00:00Z")
		}
		return t, nil
	}
	return now.Add(in), nil
}

func runEntityAdd(cmd *cobra.Command, args []string) error {
	at, _ := cmd.Flags().GetString("at")
	in, _ := cmd.Flags().GetDuration("in")

	desired, err := desiredTime(at, in, time.Now())
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ent, err := entity.NewSQLiteStore(database, clock.Real{}).Schedule(cmd.Context(), args[0], desired)
	if err != nil {
		return errors.Wrapf(err, "failed to schedule entity %s", args[0])
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s scheduled for %s\n", sym.AT, ent.ID, ent.DesiredAt.Format(time.RFC3339))
	return nil
}

func parseStatus(s string) (entity.Status, error) {
	switch entity.Status(s) {
	case "", entity.StatusScheduled, entity.StatusFinalized:
		return entity.Status(s), nil
	default:
		return "", errors.Newf("unknown status %q (supported: scheduled, finalized)", s)
	}
}

func runEntityLs(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	status, err := parseStatus(statusFlag)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ents, err := entity.NewSQLiteStore(database, clock.Real{}).Query(cmd.Context(), entity.Filter{Status: status}, limit, 0)
	if err != nil {
		return errors.Wrap(err, "failed to list entities")
	}
	return printEntities(cmd.OutOrStdout(), ents, jsonOutput)
}

func printEntities(w io.Writer, ents []*entity.Entity, jsonOutput bool) error {
	if jsonOutput {
		if ents == nil {
			ents = []*entity.Entity{}
		}
		data, err := json.MarshalIndent(ents, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal entities")
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	if len(ents) == 0 {
		fmt.Fprintln(w, "No entities")
		return nil
	}

	data := pterm.TableData{{"ID", "Desired", "Status", "Finalized"}}
	for _, e := range ents {
		finalized := "-"
		if e.FinalizedAt != nil {
			finalized = e.FinalizedAt.Format(time.RFC3339)
		}
		data = append(data, []string{e.ID, e.DesiredAt.Format(time.RFC3339), string(e.Status), finalized})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}
