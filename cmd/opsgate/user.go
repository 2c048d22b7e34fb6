package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/model"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage directory users",
}

var userCreateRole string
var userCreateAllowList []string

var userCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			role, err := model.ParseRole(userCreateRole)
			if err != nil {
				return err
			}
			u, err := a.Users.Create(ctx, args[0], role, userCreateAllowList)
			if err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionUserCreate,
				Resource: u.ID, Outcome: model.OutcomeSuccess,
				Details: fmt.Sprintf("role=%s", role),
			}); err != nil {
				return err
			}
			return printJSON(u)
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			users, err := a.Users.List(ctx)
			if err != nil {
				return err
			}
			return printJSON(users)
		})
	},
}

var userSetRoleCmd = &cobra.Command{
	Use:   "set-role [id] [role]",
	Short: "Change a user's role (advances the token watermark)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			role, err := model.ParseRole(args[1])
			if err != nil {
				return err
			}
			u, err := a.Users.SetRole(ctx, args[0], role)
			if err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionUserSetRole,
				Resource: u.ID, Outcome: model.OutcomeSuccess,
				Details: fmt.Sprintf("role=%s", role),
			}); err != nil {
				return err
			}
			return printJSON(u)
		})
	},
}

var userLockMinutes int

var userLockCmd = &cobra.Command{
	Use:   "lock [id]",
	Short: "Temporarily lock a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			u, err := a.Users.Lock(ctx, args[0], time.Duration(userLockMinutes)*time.Minute)
			if err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionUserLock,
				Resource: u.ID, Outcome: model.OutcomeSuccess,
				Details: fmt.Sprintf("minutes=%d", userLockMinutes),
			}); err != nil {
				return err
			}
			return printJSON(u)
		})
	},
}

var userUnlockCmd = &cobra.Command{
	Use:   "unlock [id]",
	Short: "Clear a user's lockout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			u, err := a.Users.Unlock(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionUserUnlock,
				Resource: u.ID, Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			return printJSON(u)
		})
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Soft-disable a user (there is no hard delete)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			u, err := a.Users.Deactivate(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionUserDeactivate,
				Resource: u.ID, Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			return printJSON(u)
		})
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userCreateRole, "role", "guest", "role: admin|agent|ops|guest")
	userCreateCmd.Flags().StringSliceVar(&userCreateAllowList, "allow-ip", nil, "allowed source IPs (repeatable)")
	userLockCmd.Flags().IntVar(&userLockMinutes, "minutes", 60, "lock duration in minutes")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userSetRoleCmd)
	userCmd.AddCommand(userLockCmd)
	userCmd.AddCommand(userUnlockCmd)
	userCmd.AddCommand(userDeactivateCmd)
}
