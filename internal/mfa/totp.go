package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/opsgate/opsgate/internal/config"
	"github.com/opsgate/opsgate/internal/model"
	"github.com/opsgate/opsgate/internal/store"
)

// ErrNotEnrolled is returned when a user has no TOTP secret.
var ErrNotEnrolled = errors.New("user has no enrolled authenticator")

// Enrollment is returned when a TOTP authenticator is set up.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
	QRCode []byte `json:"-"` // PNG of the provisioning URL
}

// TOTPVerifier validates time-based one-time codes against a per-user
// secret held in the secret store.
type TOTPVerifier struct {
	cfg     config.MFAConfig
	secrets store.SecretStore
}

// NewTOTPVerifier creates a TOTPVerifier.
func NewTOTPVerifier(cfg config.MFAConfig, secrets store.SecretStore) *TOTPVerifier {
	return &TOTPVerifier{cfg: cfg, secrets: secrets}
}

func totpSecretKey(userID string) string {
	return fmt.Sprintf("mfa-totp:%s", userID)
}

// Enroll generates a fresh TOTP secret for the user and returns the
// provisioning URL plus a QR code PNG for authenticator apps.
func (v *TOTPVerifier) Enroll(ctx context.Context, userID, accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.cfg.Issuer,
		AccountName: accountName,
		Period:      uint(v.cfg.Period),
		Digits:      otp.Digits(v.cfg.Digits),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	now := time.Now().UTC()
	if err := v.secrets.Put(ctx, &model.Secret{
		Key:       totpSecretKey(userID),
		Value:     []byte(key.Secret()),
		Version:   1,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to store TOTP secret: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	return &Enrollment{Secret: key.Secret(), URL: key.URL(), QRCode: png}, nil
}

// VerifyOTP validates the code against the user's enrolled secret.
func (v *TOTPVerifier) VerifyOTP(ctx context.Context, userID, code string) (Result, error) {
	sec, err := v.secrets.Get(ctx, totpSecretKey(userID))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Result{Reason: "not enrolled"}, nil
		}
		return Result{}, fmt.Errorf("failed to load TOTP secret: %w", err)
	}

	ok, err := totp.ValidateCustom(code, string(sec.Value), time.Now().UTC(), totp.ValidateOpts{
		Period: uint(v.cfg.Period),
		Skew:   1,
		Digits: otp.Digits(v.cfg.Digits),
	})
	if err != nil {
		return Result{Reason: "malformed code"}, nil
	}
	if !ok {
		return Result{Reason: "code mismatch"}, nil
	}
	return Result{Valid: true}, nil
}
