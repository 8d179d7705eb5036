// Package notifier defines the fire-and-forget email dispatch contract the
// identity services depend on. Actual transport lives outside this
// subsystem; the log-backed implementation records what would be sent.
package notifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Notifier dispatches identity lifecycle emails. Implementations must be
// safe for concurrent use; callers invoke them with a bounded timeout and
// never fail the primary operation on a dispatch error.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
	SendNewRegistrationAlert(ctx context.Context, email, name string) error
	SendAccountApprovedEmail(ctx context.Context, email, firstName string) error
}

// LogNotifier writes each message to the structured log instead of sending
// it. Used in development and tests.
type LogNotifier struct {
	frontendURL string
	adminEmail  string
	log         zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(frontendURL, adminEmail string, log zerolog.Logger) *LogNotifier {
	return &LogNotifier{frontendURL: frontendURL, adminEmail: adminEmail, log: log}
}

// SendVerificationEmail logs the verification link. The link expires in 24
// hours.
func (n *LogNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	n.log.Info().
		Str("to", email).
		Str("subject", "Verify Your Email").
		Str("url", fmt.Sprintf("%s/verify-email?token=%s", n.frontendURL, token)).
		Msg("Email dispatched")
	return nil
}

// SendPasswordResetEmail logs the reset link. The link expires in 1 hour.
func (n *LogNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	n.log.Info().
		Str("to", email).
		Str("subject", "Password Reset").
		Str("url", fmt.Sprintf("%s/reset-password?token=%s", n.frontendURL, token)).
		Msg("Email dispatched")
	return nil
}

// SendNewRegistrationAlert tells administrators a registration awaits
// approval.
func (n *LogNotifier) SendNewRegistrationAlert(ctx context.Context, email, name string) error {
	n.log.Info().
		Str("to", n.adminEmail).
		Str("subject", "New Registration Pending Approval").
		Str("registrant", fmt.Sprintf("%s (%s)", name, email)).
		Msg("Email dispatched")
	return nil
}

// SendAccountApprovedEmail tells the user their account went ACTIVE.
func (n *LogNotifier) SendAccountApprovedEmail(ctx context.Context, email, firstName string) error {
	n.log.Info().
		Str("to", email).
		Str("subject", "Your Account Has Been Approved").
		Str("first_name", firstName).
		Msg("Email dispatched")
	return nil
}
