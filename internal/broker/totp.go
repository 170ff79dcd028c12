package broker

import (
	"time"

	"github.com/pquerna/otp/totp"

	apperrors "spread-trader/internal/errors"
)

// GenerateTOTP produces the current 2FA code for the Kite login flow from
// the account's TOTP secret.
func GenerateTOTP(secret string) (string, error) {
	if secret == "" {
		return "", apperrors.NewValidationError("kite.totp_secret", "", "is required for TOTP generation")
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return "", apperrors.NewBrokerError("TOTP", "generating code", err)
	}
	return code, nil
}
