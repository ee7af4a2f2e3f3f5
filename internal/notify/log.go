package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes OTPs and notices to the log instead of delivering them.
// Development only: it prints the OTP code.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SendOTP(_ context.Context, msg OTPMessage) error {
	s.logger.Info("Transfer OTP",
		zap.String("email", msg.Email),
		zap.String("challenge_id", msg.ChallengeID),
		zap.String("otp", msg.Code),
		zap.String("amount", msg.Amount.StringFixed(2)),
		zap.String("recipient", msg.RecipientDescriptor),
		zap.Time("expires_at", msg.ExpiresAt))
	return nil
}

func (s *LogSink) Notify(_ context.Context, n TransferNotice) error {
	s.logger.Info("Transfer notice",
		zap.String("email", n.Email),
		zap.String("direction", string(n.Direction)),
		zap.String("transfer_id", n.TransferID),
		zap.String("amount", n.Amount.StringFixed(2)),
		zap.String("description", n.Description))
	return nil
}
