package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and replay the changelog dead-letter table",
		Long: `Changelog entries that could not be written after retries are parked in the
dead-letter table. serve replays them periodically; these commands do it on demand.`,
	}

	cmd.AddCommand(newAuditReplayCmd())
	cmd.AddCommand(newAuditDeadLettersCmd())

	return cmd
}

func newAuditReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Move dead-lettered entries into the changelog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.audit.ReplayDeadLetters(ctx)
				if err != nil {
					return fmt.Errorf("replay dead letters: %w", err)
				}
				fmt.Printf("Replayed %d changelog entr%s\n", n, plural(n, "y", "ies"))
				return nil
			})
		},
	}
}

func newAuditDeadLettersCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dl"},
		Short:   "List parked changelog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				dls, err := a.store.ListDeadLetters(ctx)
				if err != nil {
					return fmt.Errorf("list dead letters: %w", err)
				}
				if jsonOutput {
					return printJSON(os.Stdout, dls)
				}
				if len(dls) == 0 {
					fmt.Println("No dead-lettered changelog entries.")
					return nil
				}
				fmt.Printf("%-22s %-12s %-38s %-8s %-8s %s\n", "PARKED", "ENTITY", "ENTITY ID", "ACTION", "TRIES", "LAST ERROR")
				for _, dl := range dls {
					fmt.Printf("%-22s %-12s %-38s %-8s %-8d %s\n",
						dl.CreatedAt.Format(time.RFC3339), dl.Entry.EntityType, dl.Entry.EntityID,
						dl.Entry.Action, dl.Attempts, dl.LastError)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
