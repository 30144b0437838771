package ceremony

import (
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrInvalidProvisioningURI reports an unparseable otpauth:// URI.
var ErrInvalidProvisioningURI = errors.New("invalid provisioning uri")

// ConfirmProvisionedCode checks a user-entered code against the secret in
// an otpauth:// provisioning URI. It is the local half of time-code
// enrollment: a code is confirmed here before the enrollment is submitted,
// so a mis-scanned secret fails fast instead of at first sign-in.
//
// One period of clock skew is tolerated in each direction.
func ConfirmProvisionedCode(provisioningURI, code string, now time.Time) (bool, error) {
	key, err := otp.NewKeyFromURL(provisioningURI)
	if err != nil {
		return false, ErrInvalidProvisioningURI
	}
	if key.Type() != "totp" || key.Secret() == "" {
		return false, ErrInvalidProvisioningURI
	}
	period := uint(key.Period())
	if period == 0 {
		period = 30
	}
	digits := key.Digits()
	if digits == 0 {
		digits = otp.DigitsSix
	}
	ok, err := totp.ValidateCustom(code, key.Secret(), now.UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
