// Package notify delivers OTP codes and transfer notices to users through an
// out-of-band channel.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells a notice recipient which side of the transfer they are on.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// OTPMessage asks the delivery channel to send a transfer confirmation code.
type OTPMessage struct {
	Email               string          `json:"email"`
	Name                string          `json:"name"`
	Code                string          `json:"code"`
	Amount              decimal.Decimal `json:"amount"`
	RecipientDescriptor string          `json:"recipient"`
	ChallengeID         string          `json:"challenge_id"`
	ExpiresAt           time.Time       `json:"expires_at"`
}

// TransferNotice tells one party that a transfer completed.
type TransferNotice struct {
	Email         string          `json:"email"`
	Name          string          `json:"name"`
	Direction     Direction       `json:"direction"`
	TransferID    string          `json:"transfer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	SenderName    string          `json:"sender_name"`
	RecipientName string          `json:"recipient_name"`
	CreatedAt     time.Time       `json:"created_at"`
}

// OTPSender delivers confirmation codes. A returned error means the user
// did not get the code.
type OTPSender interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
}

// Notifier delivers transfer notices.
type Notifier interface {
	Notify(ctx context.Context, n TransferNotice) error
}
