package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Maintain stored sessions",
	}

	cmd.AddCommand(newSessionPurgeCmd())

	return cmd
}

func newSessionPurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete sessions that ended long ago",
		Long: `Delete sessions whose expiry or logout lies further in the past than the
retention window. Live sessions are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				retention := olderThan
				if retention <= 0 {
					retention = config.Duration(a.cfg.Sessions.PurgeAfter, 7*24*time.Hour)
				}
				n, err := a.sessions.PurgeExpired(ctx, retention)
				if err != nil {
					return fmt.Errorf("purge sessions: %w", err)
				}
				fmt.Printf("Purged %d session(s) ended more than %s ago\n", n, retention)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (default sessions.purge_after)")

	return cmd
}
