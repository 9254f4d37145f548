package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bookingRepo "paylane/database/repository/booking"
	ledgerRepo "paylane/database/repository/ledger"
	refundRepo "paylane/database/repository/refund"
	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/notification"
	"paylane/services/processor"
	"paylane/utils"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPaymentService is the production implementation of Service.
type DefaultPaymentService struct {
	Bookings bookingRepo.BookingRepository
	Txns     txnRepo.TransactionRepository
	Refunds  refundRepo.RefundRepository
	Ledger   ledgerRepo.LedgerRepository
	Registry *processor.Registry
	Notifier notification.Notifier
	Cache    *redis.Client
	Logger   *zap.Logger

	// Retry policy for outbound processor calls.
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

func (s *DefaultPaymentService) RegisterBooking(ctx context.Context, req RegisterBookingRequest) (*models.Booking, error) {
	if req.TotalAmount <= 0 || req.DepositAmount < 0 || req.DepositAmount > req.TotalAmount {
		return nil, fmt.Errorf("%w: deposit must be between 0 and total", processor.ErrInvalidRequest)
	}

	// Resolve the adapter from region exactly once; the stored name is
	// authoritative for every later operation on this booking.
	proc := s.Registry.ForRegion(req.Region)

	booking := &models.Booking{
		ID:            req.BookingID,
		CustomerRef:   req.CustomerRef,
		Region:        req.Region,
		Currency:      req.Currency,
		DepositAmount: req.DepositAmount,
		TotalAmount:   req.TotalAmount,
		Processor:     proc.Name(),
		PaymentStatus: models.PaymentAwaitingDeposit,
	}
	if booking.ID == "" {
		booking.ID = uuid.New().String()
	}

	if err := s.Bookings.Create(ctx, booking); err != nil {
		return nil, err
	}
	s.cacheBooking(ctx, booking)
	return booking, nil
}

func (s *DefaultPaymentService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	if b := s.cachedBooking(ctx, id); b != nil {
		return b, nil
	}
	b, err := s.Bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheBooking(ctx, b)
	return b, nil
}

func (s *DefaultPaymentService) InitiateCharge(ctx context.Context, req InitiateChargeRequest) (*ChargeInitiation, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", processor.ErrInvalidRequest)
	}

	booking, err := s.Bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	amount, err := chargeAmountFor(booking, req.Stage)
	if err != nil {
		return nil, err
	}

	// The ledger reservation makes the client key single-use. A losing
	// reservation means this exact initiation already ran (or is running):
	// return the recorded transaction instead of creating another.
	ledgerKey := "charge:" + req.IdempotencyKey
	if err := s.Ledger.Reserve(ctx, ledgerKey); err != nil {
		if !errors.Is(err, ledgerRepo.ErrDuplicateKey) {
			return nil, err
		}
		return s.resumeInitiation(ctx, booking, req.IdempotencyKey)
	}

	txn := &models.PaymentTransaction{
		ID:             uuid.New().String(),
		OwnerType:      models.OwnerBooking,
		OwnerID:        booking.ID,
		Stage:          req.Stage,
		Processor:      booking.Processor,
		Amount:         amount,
		Currency:       booking.Currency,
		Status:         models.TxnInitiated,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := s.Txns.Create(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.Ledger.SetOutcome(ctx, ledgerKey, txn.ID); err != nil {
		s.Logger.Warn("failed to record initiation outcome", zap.String("key", ledgerKey), zap.Error(err))
	}

	return s.driveCharge(ctx, booking, txn)
}

// resumeInitiation handles a replayed idempotency key: the same transaction
// is returned, and if the earlier attempt never got a processor reference
// (response lost), the processor call is re-driven under the same key so the
// processor can deduplicate it.
func (s *DefaultPaymentService) resumeInitiation(ctx context.Context, booking *models.Booking, key string) (*ChargeInitiation, error) {
	txn, err := s.Txns.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if txn.OwnerType != models.OwnerBooking || txn.OwnerID != booking.ID {
		return nil, fmt.Errorf("%w: idempotency key is already bound to another charge", processor.ErrInvalidRequest)
	}
	if txn.ProcessorRef == "" && txn.Status == models.TxnInitiated {
		return s.driveCharge(ctx, booking, txn)
	}
	return &ChargeInitiation{
		TransactionID:     txn.ID,
		Processor:         txn.Processor,
		ProcessorRef:      txn.ProcessorRef,
		ClientActionToken: txn.ClientActionToken,
	}, nil
}

func (s *DefaultPaymentService) driveCharge(ctx context.Context, booking *models.Booking, txn *models.PaymentTransaction) (*ChargeInitiation, error) {
	proc, err := s.Registry.ByName(txn.Processor)
	if err != nil {
		return nil, err
	}

	var result *processor.ChargeResult
	err = processor.WithRetry(ctx, s.MaxRetries, s.Backoff, s.Timeout, func(ctx context.Context) error {
		var cerr error
		result, cerr = proc.InitiateCharge(ctx, processor.ChargeRequest{
			Amount:         txn.Amount,
			Currency:       txn.Currency,
			CustomerRef:    booking.CustomerRef,
			IdempotencyKey: txn.IdempotencyKey,
		})
		return cerr
	})
	if err != nil {
		if processor.IsDeclined(err) {
			var de *processor.DeclinedError
			errors.As(err, &de)
			if merr := s.Txns.MarkFailed(ctx, txn.ID, de.Code); merr != nil && !errors.Is(merr, txnRepo.ErrAlreadyTerminal) {
				s.Logger.Error("failed to record decline", zap.String("txn", txn.ID), zap.Error(merr))
			}
		}
		// Unavailable after bounded retries leaves the transaction
		// initiated: the client retries with the same key, or the
		// reconciliation sweep resolves it once a reference exists.
		return nil, err
	}

	if err := s.Txns.SetProcessorRef(ctx, txn.ID, result.TransactionRef, result.ClientActionToken); err != nil {
		return nil, err
	}
	return &ChargeInitiation{
		TransactionID:     txn.ID,
		Processor:         txn.Processor,
		ProcessorRef:      result.TransactionRef,
		ClientActionToken: result.ClientActionToken,
	}, nil
}

func (s *DefaultPaymentService) ConfirmCharge(ctx context.Context, transactionID string) (*models.Booking, error) {
	txn, err := s.Txns.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.OwnerType != models.OwnerBooking {
		return nil, fmt.Errorf("%w: transaction %s is not booking-owned", processor.ErrInvalidRequest, transactionID)
	}

	if txn.Status == models.TxnInitiated && txn.ProcessorRef != "" {
		proc, err := s.Registry.ByName(txn.Processor)
		if err != nil {
			return nil, err
		}
		var result *processor.VerifyResult
		err = processor.WithRetry(ctx, s.MaxRetries, s.Backoff, s.Timeout, func(ctx context.Context) error {
			var verr error
			result, verr = proc.VerifyTransaction(ctx, txn.ProcessorRef)
			return verr
		})
		if err != nil {
			return nil, err
		}

		switch result.Status {
		case processor.VerifySucceeded:
			ev := models.NormalizedEvent{
				Type:      models.EventChargeSucceeded,
				EntityRef: txn.ProcessorRef,
				Amount:    result.Amount,
				Currency:  result.Currency,
				Processor: txn.Processor,
			}
			if err := s.ApplyChargeEvent(ctx, txn, ev); err != nil {
				return nil, err
			}
		case processor.VerifyFailed:
			if err := s.Txns.MarkFailed(ctx, txn.ID, "verification_failed"); err != nil && !errors.Is(err, txnRepo.ErrAlreadyTerminal) {
				return nil, err
			}
		}
		// Pending leaves everything untouched; the webhook or the sweep
		// will finish the job.
	}

	booking, err := s.Bookings.GetByID(ctx, txn.OwnerID)
	if err != nil {
		return nil, err
	}
	s.cacheBooking(ctx, booking)
	return booking, nil
}

func (s *DefaultPaymentService) ApplyChargeEvent(ctx context.Context, txn *models.PaymentTransaction, ev models.NormalizedEvent) error {
	switch ev.Type {
	case models.EventChargeFailed:
		err := s.Txns.MarkFailed(ctx, txn.ID, ev.FailureCode)
		if errors.Is(err, txnRepo.ErrAlreadyTerminal) {
			return nil
		}
		return err

	case models.EventChargeSucceeded:
		// The initiated -> verified precondition is the duplicate guard:
		// a second apply of the same logical outcome finds the transaction
		// already terminal and stops here.
		err := s.Txns.MarkVerified(ctx, txn.ID)
		if errors.Is(err, txnRepo.ErrAlreadyTerminal) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.advanceBooking(ctx, txn.OwnerID, ev.Amount)

	default:
		return fmt.Errorf("charge apply got unexpected event type %s", ev.Type)
	}
}

// advanceBooking moves the booking through the payment state machine under
// an optimistic-concurrency check, retrying the read-modify-write once.
func (s *DefaultPaymentService) advanceBooking(ctx context.Context, bookingID string, amount int64) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		booking, err := s.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}

		next, err := NextOnCharge(booking, amount)
		if err != nil {
			var mismatch *AmountMismatchError
			if errors.As(err, &mismatch) {
				s.Logger.Error("charge amount mismatch, needs manual review",
					zap.String("booking", bookingID),
					zap.Int64("expected", mismatch.Expected),
					zap.Int64("got", mismatch.Got))
			}
			return err
		}

		err = s.Bookings.UpdatePaymentState(ctx, bookingID, booking.Version, next, booking.RefundedAmount)
		if err == nil {
			s.invalidateBooking(ctx, bookingID)
			s.notify(ctx, "booking", bookingID, string(next), map[string]string{
				"amount": fmt.Sprintf("%d", amount),
			})
			return nil
		}
		if !errors.Is(err, bookingRepo.ErrStaleVersion) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *DefaultPaymentService) ApplyRefundOutcome(ctx context.Context, bookingID string) error {
	captured, err := s.Txns.SumVerifiedByOwner(ctx, bookingID)
	if err != nil {
		return err
	}
	refunded, err := s.Refunds.SumSucceededByBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	next, err := NextOnRefund(captured, refunded)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		booking, err := s.Bookings.GetByID(ctx, bookingID)
		if err != nil {
			return err
		}
		err = s.Bookings.UpdatePaymentState(ctx, bookingID, booking.Version, next, refunded)
		if err == nil {
			s.invalidateBooking(ctx, bookingID)
			s.notify(ctx, "booking", bookingID, string(next), map[string]string{
				"refunded": fmt.Sprintf("%d", refunded),
			})
			return nil
		}
		if !errors.Is(err, bookingRepo.ErrStaleVersion) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func chargeAmountFor(b *models.Booking, stage models.ChargeStage) (int64, error) {
	switch stage {
	case models.StageDeposit:
		if b.PaymentStatus != models.PaymentAwaitingDeposit {
			return 0, fmt.Errorf("%w: booking %s is not awaiting a deposit", processor.ErrInvalidRequest, b.ID)
		}
		return b.DepositAmount, nil
	case models.StageBalance:
		switch b.PaymentStatus {
		case models.PaymentDepositPaid:
			return b.RemainingBalance(), nil
		case models.PaymentAwaitingDeposit:
			// Paying everything up front is allowed; the state machine
			// takes the direct shortcut when the charge verifies.
			return b.TotalAmount, nil
		default:
			return 0, fmt.Errorf("%w: booking %s has no payable balance", processor.ErrInvalidRequest, b.ID)
		}
	default:
		return 0, fmt.Errorf("%w: unknown charge stage %q", processor.ErrInvalidRequest, stage)
	}
}

func (s *DefaultPaymentService) notify(ctx context.Context, kind, id, status string, data map[string]string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.NotifyTransition(ctx, kind, id, status, data)
}

func (s *DefaultPaymentService) cacheBooking(ctx context.Context, b *models.Booking) {
	if s.Cache == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, utils.StatusCachePrefix+"booking:"+b.ID, data, utils.StatusCacheTTL).Err(); err != nil {
		s.Logger.Debug("failed to cache booking status", zap.String("booking", b.ID), zap.Error(err))
	}
}

func (s *DefaultPaymentService) cachedBooking(ctx context.Context, id string) *models.Booking {
	if s.Cache == nil {
		return nil
	}
	data, err := s.Cache.Get(ctx, utils.StatusCachePrefix+"booking:"+id).Bytes()
	if err != nil {
		return nil
	}
	var b models.Booking
	if err := json.Unmarshal(data, &b); err != nil {
		return nil
	}
	return &b
}

func (s *DefaultPaymentService) invalidateBooking(ctx context.Context, id string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Del(ctx, utils.StatusCachePrefix+"booking:"+id).Err(); err != nil {
		s.Logger.Debug("failed to invalidate booking cache", zap.String("booking", id), zap.Error(err))
	}
}
