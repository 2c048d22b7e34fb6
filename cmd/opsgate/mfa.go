package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsgate/opsgate/internal/app"
	"github.com/opsgate/opsgate/internal/audit"
	"github.com/opsgate/opsgate/internal/model"
)

var mfaCmd = &cobra.Command{
	Use:   "mfa",
	Short: "Manage step-up authenticators",
}

var mfaEnrollQRPath string

var mfaEnrollCmd = &cobra.Command{
	Use:   "enroll [user-id]",
	Short: "Enroll a TOTP authenticator for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if a.TOTP == nil {
				return fmt.Errorf("MFA provider %q does not support enrollment", a.Cfg.MFA.Provider)
			}
			user, err := a.Users.Get(ctx, args[0])
			if err != nil {
				return err
			}
			enrollment, err := a.TOTP.Enroll(ctx, user.ID, user.DisplayName)
			if err != nil {
				return err
			}
			if _, err := a.Users.SetMFAEnrolled(ctx, user.ID, true); err != nil {
				return err
			}
			if _, err := a.Trail.Append(ctx, audit.Record{
				ActorID: "operator", Action: model.AuditActionMFAEnroll,
				Resource: user.ID, Outcome: model.OutcomeSuccess,
			}); err != nil {
				return err
			}
			if mfaEnrollQRPath != "" {
				if err := os.WriteFile(mfaEnrollQRPath, enrollment.QRCode, 0o600); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}
			return printJSON(map[string]string{
				"secret": enrollment.Secret,
				"url":    enrollment.URL,
			})
		})
	},
}

func init() {
	mfaEnrollCmd.Flags().StringVar(&mfaEnrollQRPath, "qr", "", "write the provisioning QR code PNG to this path")
	mfaCmd.AddCommand(mfaEnrollCmd)
}
