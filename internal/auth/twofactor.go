package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP parameters. 30-second steps with one step of skew either side
// tolerates modest clock drift on the authenticator device.
const (
	totpPeriod = 30
	totpSkew   = 1
)

// TwoFactorEnrollment is the material handed to a user starting TOTP
// enrollment: the shared secret and the otpauth:// URI their
// authenticator app consumes as a QR code.
type TwoFactorEnrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// NewTwoFactorEnrollment generates a fresh TOTP secret for a user.
// Beginning a new enrollment overwrites any prior pending secret.
func NewTwoFactorEnrollment(issuer, email string) (*TwoFactorEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp secret: %w", err)
	}

	return &TwoFactorEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// ValidateTwoFactorCode checks a six-digit TOTP code against a secret at
// the given time, accepting one step of skew either side.
func ValidateTwoFactorCode(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
