package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/model"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage keyed secrets",
}

var secretRotateCmd = &cobra.Command{
	Use:   "rotate [key]",
	Short: "Rotate a secret's value",
	Long: `Replaces the secret with fresh random material. Rotating the token
signing secret immediately invalidates all outstanding tokens.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			info, err := a.Secrets.Rotate(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionSecretRotate,
				Resource: info.Key, Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			return printJSON(info)
		})
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets (metadata only, never values)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			infos, err := a.Secrets.List(ctx)
			if err != nil {
				return err
			}
			return printJSON(infos)
		})
	},
}

func init() {
	secretCmd.AddCommand(secretRotateCmd)
	secretCmd.AddCommand(secretListCmd)
}
