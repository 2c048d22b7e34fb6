package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/enforcer"
	"github.com/opsgate/opsgate/internal/model"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Evaluate access decisions",
}

var accessToken string

var accessCheckCmd = &cobra.Command{
	Use:   "check [user-id] [action] [resource] [ip]",
	Short: "Run the decision pipeline",
	Long: `Runs the full gate pipeline and exits with the decision:
0 granted, 1 denied, 3 MFA step-up required, 2 on error.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := exitOK
		// Exit only after withApp has closed the store connections.
		err := withApp(func(ctx context.Context, a *app.App) error {
			dec, err := a.Enforcer.Evaluate(ctx, enforcer.Request{
				UserID:   args[0],
				Action:   args[1],
				Resource: args[2],
				IP:       args[3],
				Token:    accessToken,
			})
			if err != nil {
				return err
			}
			code = exitCode(dec)
			return printJSON(dec)
		})
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

var accessMFACmd = &cobra.Command{
	Use:   "mfa [user-id] [code] [action] [resource] [ip]",
	Short: "Submit a step-up MFA code and re-run the pipeline",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := exitOK
		err := withApp(func(ctx context.Context, a *app.App) error {
			dec, err := a.Enforcer.AuthenticateWithMFA(ctx, args[0], args[1], args[2], args[3], args[4])
			if err != nil {
				return err
			}
			code = exitCode(dec)
			return printJSON(dec)
		})
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

func exitCode(dec model.Decision) int {
	switch dec.Effect {
	case model.EffectGranted:
		return exitOK
	case model.EffectMFARequired:
		return exitMFANeeded
	default:
		return exitDenied
	}
}

func init() {
	accessCheckCmd.Flags().StringVar(&accessToken, "token", "", "bearer token to validate as an additional gate")
	accessCmd.AddCommand(accessCheckCmd)
	accessCmd.AddCommand(accessMFACmd)
}
