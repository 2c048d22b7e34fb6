package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Replay the full chain and report every divergence",
	Long: `Recomputes every chain hash from the first record forward.
Exits 0 when the chain is intact and 1 when any entry diverges.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		code := exitOK
		err := withApp(func(ctx context.Context, a *app.App) error {
			report, err := a.Trail.VerifyIntegrity(ctx)
			if err != nil {
				return err
			}
			if !report.Valid {
				code = exitDenied
			}
			return printJSON(report)
		})
		if err != nil {
			return err
		}
		if code != exitOK {
			os.Exit(code)
		}
		return nil
	},
}

var auditRecentN int

var auditRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the newest entries (projection only, no integrity claim)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			entries, err := a.Trail.Recent(ctx, auditRecentN)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

var (
	auditSearchActor    string
	auditSearchAction   string
	auditSearchResource string
	auditSearchOutcome  string
	auditSearchSince    string
	auditSearchLimit    int
)

var auditSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Filter entries (projection only, no integrity claim)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			f := store.AuditFilter{
				ActorID:  auditSearchActor,
				Action:   auditSearchAction,
				Resource: auditSearchResource,
				Outcome:  model.Outcome(auditSearchOutcome),
				Limit:    auditSearchLimit,
			}
			if auditSearchSince != "" {
				since, err := time.Parse(time.RFC3339, auditSearchSince)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				f.Since = since
			}
			entries, err := a.Trail.Search(ctx, f)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

func init() {
	auditRecentCmd.Flags().IntVar(&auditRecentN, "n", 20, "number of entries")
	auditSearchCmd.Flags().StringVar(&auditSearchActor, "actor", "", "filter by actor id")
	auditSearchCmd.Flags().StringVar(&auditSearchAction, "action", "", "filter by action")
	auditSearchCmd.Flags().StringVar(&auditSearchResource, "resource", "", "filter by resource")
	auditSearchCmd.Flags().StringVar(&auditSearchOutcome, "outcome", "", "filter by outcome")
	auditSearchCmd.Flags().StringVar(&auditSearchSince, "since", "", "RFC3339 lower bound")
	auditSearchCmd.Flags().IntVar(&auditSearchLimit, "limit", 0, "maximum entries")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditRecentCmd)
	auditCmd.AddCommand(auditSearchCmd)
}
