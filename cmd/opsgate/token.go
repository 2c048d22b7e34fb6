package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/model"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueIP string

var tokenIssueCmd = &cobra.Command{
	Use:   "issue [user-id]",
	Short: "Issue a signed bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			user, err := a.Users.Get(ctx, args[0])
			if err != nil {
				return err
			}
			raw, claims, err := a.Tokens.Issue(ctx, user, tokenIssueIP)
			if err != nil {
				return err
			}
			if err := a.Users.BindSession(ctx, user.ID, raw); err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: user.ID, Action: model.AuditActionTokenIssue,
				Resource: claims.ID, IP: tokenIssueIP, Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"token":     raw,
				"expiresAt": claims.ExpiresAt.Time,
			})
		})
	},
}

var tokenVerifyRole string

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify [token]",
	Short: "Verify a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			var role model.Role
			if tokenVerifyRole != "" {
				parsed, err := model.ParseRole(tokenVerifyRole)
				if err != nil {
					return err
				}
				role = parsed
			}
			v, err := a.Tokens.Verify(ctx, args[0], role)
			if err != nil {
				return err
			}
			out := map[string]interface{}{"valid": v.Valid, "reason": v.Reason}
			if v.User != nil {
				out["subject"] = v.User.ID
			}
			if err := printJSON(out); err != nil {
				return err
			}
			if !v.Valid {
				return fmt.Errorf("token invalid: %s", v.Reason)
			}
			return nil
		})
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke [token]",
	Short: "Add a token to the revocation set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Tokens.Revoke(ctx, args[0]); err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionTokenRevoke,
				Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			fmt.Println("revoked")
			return nil
		})
	},
}

var tokenRefreshCmd = &cobra.Command{
	Use:   "refresh [token]",
	Short: "Rotate a token: verify, issue a replacement, revoke the old one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			raw, v, err := a.Tokens.Refresh(ctx, args[0])
			if err != nil {
				return err
			}
			if !v.Valid {
				if _, aerr := a.Trail.Append(ctx, audit.Record{
					ActorID: "operator", Action: model.AuditActionTokenRefresh,
					Outcome: model.OutcomeFailure, Details: v.Reason,
				}); aerr != nil {
					return aerr
				}
				return fmt.Errorf("refresh rejected: %s", v.Reason)
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: v.User.ID, Action: model.AuditActionTokenRefresh,
				Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			return printJSON(map[string]interface{}{"token": raw})
		})
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenIssueIP, "ip", "", "source IP to embed in the token")
	tokenVerifyCmd.Flags().StringVar(&tokenVerifyRole, "require-role", "", "require this role (Admin always passes)")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenVerifyCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	tokenCmd.AddCommand(tokenRefreshCmd)
}
