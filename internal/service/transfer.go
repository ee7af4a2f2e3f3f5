package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/challenge"
	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/notify"
	"github.com/punchamoorthee/bankops/internal/otp"
)

type Options struct {
	ChallengeTTL   time.Duration
	OTPLength      int
	MaxOTPAttempts int
	// MaxAmount caps a single transfer. Zero means no cap.
	MaxAmount decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		ChallengeTTL:   5 * time.Minute,
		OTPLength:      6,
		MaxOTPAttempts: 5,
	}
}

// Deps are the collaborators of TransferService. Notices may be nil, in
// which case no transfer notices are sent.
type Deps struct {
	Directory  Directory
	Ledger     Ledger
	History    History
	Challenges challenge.Store
	Verifier   CredentialVerifier
	OTPSender  notify.OTPSender
	Notices    Notifications
}

type TransferService struct {
	directory  Directory
	ledger     Ledger
	history    History
	challenges challenge.Store
	verifier   CredentialVerifier
	otpSender  notify.OTPSender
	notices    Notifications
	opts       Options
	now        func() time.Time
	generate   func(length int) (string, error)
	logger     *zap.Logger
}

func NewTransferService(deps Deps, opts Options, logger *zap.Logger) *TransferService {
	def := DefaultOptions()
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = def.ChallengeTTL
	}
	if opts.OTPLength <= 0 {
		opts.OTPLength = def.OTPLength
	}
	if opts.MaxOTPAttempts <= 0 {
		opts.MaxOTPAttempts = def.MaxOTPAttempts
	}
	return &TransferService{
		directory:  deps.Directory,
		ledger:     deps.Ledger,
		history:    deps.History,
		challenges: deps.Challenges,
		verifier:   deps.Verifier,
		otpSender:  deps.OTPSender,
		notices:    deps.Notices,
		opts:       opts,
		now:        time.Now,
		generate:   otp.Generate,
		logger:     logger,
	}
}

// WithClock replaces the time source, for tests.
func (s *TransferService) WithClock(now func() time.Time) *TransferService {
	s.now = now
	return s
}

type InitiateRequest struct {
	UserID           string
	RecipientEmail   string
	RecipientAccount string
	Amount           decimal.Decimal
	Description      string
}

type InitiateResult struct {
	ChallengeID string
	ExpiresAt   time.Time
}

type ConfirmRequest struct {
	UserID      string
	ChallengeID string
	OTP         string
	Password    string
}

type DirectRequest struct {
	UserID         string
	RecipientEmail string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// TransferResult describes a committed transfer from the sender's side.
// TransferID is the id of the sender's debit entry.
type TransferResult struct {
	TransferID             string
	LedgerTransferID       string
	NewBalance             decimal.Decimal
	Amount                 decimal.Decimal
	RecipientEmail         string
	RecipientName          string
	RecipientAccountNumber string
	Description            string
	Timestamp              time.Time
}

type ChallengeStatus struct {
	ChallengeID       string
	Amount            decimal.Decimal
	ExpiresAt         time.Time
	AttemptsRemaining int
	Verified          bool
}

func (s *TransferService) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return domain.ErrInvalidAmount
	}
	if s.opts.MaxAmount.IsPositive() && amount.GreaterThan(s.opts.MaxAmount) {
		return domain.ErrAmountTooLarge
	}
	return nil
}

func (s *TransferService) loadSender(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, lookupErr(err, domain.ErrSenderNotFound)
	}
	return user, nil
}

func (s *TransferService) senderAccount(ctx context.Context, userID string) (*domain.Account, error) {
	acc, err := s.directory.PrimaryAccount(ctx, userID)
	if err != nil {
		return nil, lookupErr(err, domain.ErrSenderAccountNotFound)
	}
	return acc, nil
}

// Initiate validates a transfer, stores a challenge for it and sends the
// sender an OTP. Balances are not touched.
func (s *TransferService) Initiate(ctx context.Context, req InitiateRequest) (result *InitiateResult, err error) {
	defer func() { transfersTotal.WithLabelValues("initiate", outcome(err)).Inc() }()

	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}
	sender, err := s.loadSender(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	senderAcc, err := s.senderAccount(ctx, sender.ID)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.resolveRecipient(ctx, RecipientQuery{
		Email:         req.RecipientEmail,
		AccountRef:    req.RecipientAccount,
		SenderUserID:  sender.ID,
		SenderAccount: senderAcc.ID,
	}, RejectSameAccount)
	if err != nil {
		return nil, err
	}
	if senderAcc.Balance.LessThan(req.Amount) {
		return nil, domain.ErrInsufficientBalance
	}

	code, err := s.generate(s.opts.OTPLength)
	if err != nil {
		return nil, domain.ErrInternal.Wrap(err)
	}

	now := s.now().UTC()
	ch := &domain.TransferChallenge{
		ID:                 uuid.NewString(),
		UserID:             sender.ID,
		RecipientEmail:     rcpt.User.Email,
		RecipientAccountID: rcpt.Account.ID,
		Amount:             req.Amount,
		Description:        req.Description,
		OTPCode:            code,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.opts.ChallengeTTL),
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		return nil, domain.ErrInternal.Wrap(err)
	}

	err = s.otpSender.SendOTP(ctx, notify.OTPMessage{
		Email:               sender.Email,
		Name:                sender.Name,
		Code:                code,
		Amount:              req.Amount,
		RecipientDescriptor: describeRecipient(rcpt),
		ChallengeID:         ch.ID,
		ExpiresAt:           ch.ExpiresAt,
	})
	if err != nil {
		if derr := s.challenges.Delete(context.WithoutCancel(ctx), ch.ID); derr != nil {
			s.logger.Error("Failed to delete challenge after OTP delivery failure",
				zap.String("challenge_id", ch.ID), zap.Error(derr))
		}
		challengesTotal.WithLabelValues("otp_failed").Inc()
		s.logger.Warn("OTP delivery failed", zap.String("challenge_id", ch.ID), zap.String("user_id", sender.ID), zap.Error(err))
		return nil, domain.ErrNotificationFailure.Wrap(err)
	}

	challengesTotal.WithLabelValues("created").Inc()
	s.logger.Info("Transfer challenge created",
		zap.String("challenge_id", ch.ID),
		zap.String("user_id", sender.ID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.Time("expires_at", ch.ExpiresAt))

	return &InitiateResult{ChallengeID: ch.ID, ExpiresAt: ch.ExpiresAt}, nil
}

// Confirm checks the OTP and password for a pending challenge and executes
// the transfer. A challenge executes at most once: concurrent confirmations
// race on Claim and only the winner proceeds.
func (s *TransferService) Confirm(ctx context.Context, req ConfirmRequest) (result *TransferResult, err error) {
	defer func() { transfersTotal.WithLabelValues("confirm", outcome(err)).Inc() }()

	switch {
	case req.ChallengeID == "":
		return nil, domain.ErrInvalidRequest.WithMessage("challengeId is required")
	case req.OTP == "":
		return nil, domain.ErrInvalidRequest.WithMessage("otp is required")
	case req.Password == "":
		return nil, domain.ErrInvalidRequest.WithMessage("password is required")
	}

	ch, err := s.challenges.Claim(ctx, req.ChallengeID)
	if err != nil {
		return nil, challengeErr(err)
	}

	consumed := false
	defer func() {
		if consumed {
			return
		}
		if rerr := s.challenges.Release(context.WithoutCancel(ctx), ch); rerr != nil && !errors.Is(rerr, challenge.ErrNotFound) {
			s.logger.Error("Failed to release challenge", zap.String("challenge_id", ch.ID), zap.Error(rerr))
		}
	}()
	consume := func() {
		consumed = true
		if derr := s.challenges.Delete(context.WithoutCancel(ctx), ch.ID); derr != nil {
			s.logger.Error("Failed to delete challenge", zap.String("challenge_id", ch.ID), zap.Error(derr))
		}
	}

	if ch.UserID != req.UserID {
		s.logger.Warn("Challenge confirmation by another user",
			zap.String("challenge_id", ch.ID), zap.String("user_id", req.UserID))
		return nil, domain.ErrForbidden
	}

	if subtle.ConstantTimeCompare([]byte(ch.OTPCode), []byte(req.OTP)) != 1 {
		ch.Attempts++
		if ch.Attempts >= s.opts.MaxOTPAttempts {
			consume()
			challengesTotal.WithLabelValues("locked_out").Inc()
			s.logger.Warn("Challenge locked after repeated invalid OTPs",
				zap.String("challenge_id", ch.ID), zap.Int("attempts", ch.Attempts))
			return nil, domain.ErrOTPAttemptsExceeded
		}
		return nil, domain.ErrInvalidOTP
	}
	ch.Verified = true

	sender, err := s.loadSender(ctx, ch.UserID)
	if err != nil {
		return nil, err
	}
	if !s.verifier.Verify(req.Password, sender.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	senderAcc, err := s.senderAccount(ctx, sender.ID)
	if err != nil {
		return nil, err
	}
	if senderAcc.Balance.LessThan(ch.Amount) {
		return nil, domain.ErrInsufficientBalance
	}

	rcptAcc, err := s.directory.GetAccount(ctx, ch.RecipientAccountID)
	if err != nil {
		return nil, lookupErr(err, domain.ErrRecipientHasNoAccounts)
	}
	rcptUser, err := s.directory.GetUser(ctx, rcptAcc.UserID)
	if err != nil {
		return nil, lookupErr(err, domain.ErrRecipientNotFound)
	}
	if rcptAcc.ID == senderAcc.ID {
		return nil, domain.ErrSelfTransfer
	}

	in := domain.TransferInstruction{
		IdempotencyKey:     "challenge:" + ch.ID,
		SenderUserID:       sender.ID,
		SenderName:         sender.Name,
		SenderAccountID:    senderAcc.ID,
		RecipientUserID:    rcptUser.ID,
		RecipientName:      rcptUser.Name,
		RecipientAccountID: rcptAcc.ID,
		Amount:             ch.Amount,
		Description:        ch.Description,
	}
	res, err := s.ledger.ExecuteTransfer(ctx, in)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTransfer) {
			// Already executed by an earlier confirmation that did not get
			// to delete the challenge.
			consume()
			return nil, domain.ErrChallengeNotFound
		}
		return nil, s.ledgerErr(s.vanishedAccountErr(ctx, err, senderAcc.ID), ch.ID)
	}

	consume()
	challengesTotal.WithLabelValues("confirmed").Inc()
	return s.completed(sender, rcptUser, rcptAcc, res), nil
}

// DirectTransfer executes a transfer immediately, without a challenge. A
// repeated idempotency key from the same user is rejected.
func (s *TransferService) DirectTransfer(ctx context.Context, req DirectRequest) (result *TransferResult, err error) {
	defer func() { transfersTotal.WithLabelValues("direct", outcome(err)).Inc() }()

	if req.RecipientEmail == "" {
		return nil, domain.ErrInvalidRequest.WithMessage("recipient email and amount are required")
	}
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}
	sender, err := s.loadSender(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.resolveRecipient(ctx, RecipientQuery{
		Email:        req.RecipientEmail,
		SenderUserID: sender.ID,
	}, RejectSameUser)
	if err != nil {
		return nil, err
	}
	senderAcc, err := s.senderAccount(ctx, sender.ID)
	if err != nil {
		return nil, err
	}
	if senderAcc.Balance.LessThan(req.Amount) {
		return nil, domain.ErrInsufficientBalance
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	res, err := s.ledger.ExecuteTransfer(ctx, domain.TransferInstruction{
		IdempotencyKey:     "direct:" + sender.ID + ":" + key,
		SenderUserID:       sender.ID,
		SenderName:         sender.Name,
		SenderAccountID:    senderAcc.ID,
		RecipientUserID:    rcpt.User.ID,
		RecipientName:      rcpt.User.Name,
		RecipientAccountID: rcpt.Account.ID,
		Amount:             req.Amount,
		Description:        req.Description,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateTransfer) {
			return nil, err
		}
		return nil, s.ledgerErr(s.vanishedAccountErr(ctx, err, senderAcc.ID), "")
	}
	return s.completed(sender, rcpt.User, rcpt.Account, res), nil
}

// ChallengeStatus reports a pending challenge to its owner.
func (s *TransferService) ChallengeStatus(ctx context.Context, userID, challengeID string) (*ChallengeStatus, error) {
	ch, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, challengeErr(err)
	}
	if ch.UserID != userID {
		return nil, domain.ErrForbidden
	}
	remaining := s.opts.MaxOTPAttempts - ch.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return &ChallengeStatus{
		ChallengeID:       ch.ID,
		Amount:            ch.Amount,
		ExpiresAt:         ch.ExpiresAt,
		AttemptsRemaining: remaining,
		Verified:          ch.Verified,
	}, nil
}

func (s *TransferService) completed(sender, rcpt *domain.User, rcptAcc *domain.Account, res *domain.LedgerResult) *TransferResult {
	transferAmount.Observe(res.Transfer.Amount.InexactFloat64())
	s.logger.Info("Transfer completed",
		zap.String("transfer_id", res.Transfer.ID),
		zap.String("from_account_id", res.Transfer.FromAccountID),
		zap.String("to_account_id", res.Transfer.ToAccountID),
		zap.String("amount", res.Transfer.Amount.StringFixed(2)))

	s.notify(sender, rcpt, res)

	return &TransferResult{
		TransferID:             res.Debit.ID,
		LedgerTransferID:       res.Transfer.ID,
		NewBalance:             res.SenderBalance,
		Amount:                 res.Transfer.Amount,
		RecipientEmail:         rcpt.Email,
		RecipientName:          rcpt.Name,
		RecipientAccountNumber: rcptAcc.AccountNumber,
		Description:            res.Debit.Description,
		Timestamp:              res.Debit.CreatedAt,
	}
}

// notify hands both notices to the dispatcher. It never waits for delivery.
func (s *TransferService) notify(sender, rcpt *domain.User, res *domain.LedgerResult) {
	if s.notices == nil {
		return
	}
	s.notices.Submit(notify.TransferNotice{
		Email:         sender.Email,
		Name:          sender.Name,
		Direction:     notify.DirectionSent,
		TransferID:    res.Transfer.ID,
		Amount:        res.Transfer.Amount,
		Description:   res.Debit.Description,
		SenderName:    sender.Name,
		RecipientName: rcpt.Name,
		CreatedAt:     res.Transfer.CreatedAt,
	})
	s.notices.Submit(notify.TransferNotice{
		Email:         rcpt.Email,
		Name:          rcpt.Name,
		Direction:     notify.DirectionReceived,
		TransferID:    res.Transfer.ID,
		Amount:        res.Transfer.Amount,
		Description:   res.Credit.Description,
		SenderName:    sender.Name,
		RecipientName: rcpt.Name,
		CreatedAt:     res.Transfer.CreatedAt,
	})
}

// vanishedAccountErr tells which side of a transfer the ledger could not
// find. Other errors pass through unchanged.
func (s *TransferService) vanishedAccountErr(ctx context.Context, err error, senderAccountID string) error {
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return err
	}
	if _, lerr := s.directory.GetAccount(ctx, senderAccountID); errors.Is(lerr, domain.ErrAccountNotFound) {
		return domain.ErrSenderAccountNotFound
	}
	return domain.ErrRecipientNotFound
}

func (s *TransferService) ledgerErr(err error, challengeID string) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	s.logger.Error("Ledger transfer failed", zap.String("challenge_id", challengeID), zap.Error(err))
	return domain.ErrInternal.Wrap(err)
}

func challengeErr(err error) error {
	switch {
	case errors.Is(err, challenge.ErrExpired):
		return domain.ErrChallengeExpired
	case errors.Is(err, challenge.ErrNotFound):
		return domain.ErrChallengeNotFound
	}
	return domain.ErrInternal.Wrap(err)
}

func describeRecipient(r *Recipient) string {
	number := r.Account.AccountNumber
	if len(number) > 4 {
		number = "****" + number[len(number)-4:]
	}
	return r.User.Name + " (" + number + ")"
}
