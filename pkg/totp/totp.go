// Package totp wraps TOTP secret provisioning and code verification for the
// MFA flow. Codes are standard 30-second-step, six-digit values; verification
// accepts ±1 step of clock skew and nothing older.
package totp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const qrSize = 200

// Enrollment is the material handed to a user starting MFA setup.
type Enrollment struct {
	Secret          string // base32, stored unconfirmed until proven
	ProvisioningURI string // otpauth:// URI for authenticator apps
	QRCodePNG       string // base64-encoded PNG of the provisioning URI
}

// Generate provisions a fresh random TOTP secret for the account.
func Generate(issuer, accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	return &Enrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCodePNG:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Verify reports whether the code is valid for the secret at the current
// time, allowing one step of skew in either direction.
func Verify(secret, code string) bool {
	return VerifyAt(secret, code, time.Now())
}

// VerifyAt is Verify with an explicit reference time, for tests.
func VerifyAt(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
