package refund

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	bookingRepo "paylane/database/repository/booking"
	ledgerRepo "paylane/database/repository/ledger"
	refundRepo "paylane/database/repository/refund"
	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/payment"
	"paylane/services/processor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRefundService is the production implementation of Service.
type DefaultRefundService struct {
	Bookings bookingRepo.BookingRepository
	Refunds  refundRepo.RefundRepository
	Txns     txnRepo.TransactionRepository
	Ledger   ledgerRepo.LedgerRepository
	Registry *processor.Registry
	Payments payment.Service
	Logger   *zap.Logger

	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

func (s *DefaultRefundService) RequestRefund(ctx context.Context, req Request) ([]models.Refund, error) {
	if req.Amount <= 0 || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: amount and idempotency key are required", processor.ErrInvalidRequest)
	}

	booking, err := s.Bookings.GetByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	captured, err := s.Txns.SumVerifiedByOwner(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	if captured == 0 {
		return nil, fmt.Errorf("%w: nothing captured on booking %s", processor.ErrInvalidRequest, booking.ID)
	}

	succeeded, err := s.Refunds.SumSucceededByBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}
	open, err := s.Refunds.SumOpenByBooking(ctx, booking.ID)
	if err != nil {
		return nil, err
	}

	// Refunds in flight count against the refundable amount, so two
	// overlapping requests cannot jointly exceed what was captured.
	remaining := captured - succeeded - open
	if req.Amount > remaining {
		return nil, &payment.AmountMismatchError{BookingID: booking.ID, Expected: remaining, Got: req.Amount}
	}

	ledgerKey := "refund:" + req.IdempotencyKey
	if err := s.Ledger.Reserve(ctx, ledgerKey); err != nil {
		if !errors.Is(err, ledgerRepo.ErrDuplicateKey) {
			return nil, err
		}
		return s.Refunds.ListByRequestKey(ctx, req.IdempotencyKey)
	}

	records, err := s.allocate(ctx, booking, req)
	if err != nil {
		s.abandonAllocation(ctx, ledgerKey, records)
		return nil, err
	}
	if err := s.Ledger.SetOutcome(ctx, ledgerKey, records[0].ID); err != nil {
		s.Logger.Warn("failed to record refund outcome", zap.String("key", ledgerKey), zap.Error(err))
	}

	for i := range records {
		s.initiate(ctx, &records[i])
	}
	return records, nil
}

// allocate decomposes the requested amount across the booking's verified
// charges, largest first, creating one PENDING record per slice. On error it
// returns the records created so far; the caller abandons them.
func (s *DefaultRefundService) allocate(ctx context.Context, booking *models.Booking, req Request) ([]models.Refund, error) {
	txns, err := s.verifiedTransactions(ctx, booking.ID)
	if err != nil {
		return nil, err
	}

	var records []models.Refund
	left := req.Amount
	for _, txn := range txns {
		if left == 0 {
			break
		}
		active, err := s.Refunds.SumActiveByTransaction(ctx, txn.ProcessorRef)
		if err != nil {
			return records, err
		}
		avail := txn.Amount - active
		if avail <= 0 {
			continue
		}
		slice := avail
		if left < slice {
			slice = left
		}

		rec := models.Refund{
			ID:             uuid.New().String(),
			BookingID:      booking.ID,
			RequestKey:     req.IdempotencyKey,
			TransactionRef: txn.ProcessorRef,
			Amount:         slice,
			Currency:       booking.Currency,
			Status:         models.RefundPending,
			Reason:         req.Reason,
			Processor:      booking.Processor,
		}
		if err := s.Refunds.Create(ctx, &rec); err != nil {
			return records, err
		}
		records = append(records, rec)
		left -= slice
	}

	if left > 0 {
		// The booking-level check passed but per-transaction allocation
		// came up short; another writer raced us.
		return records, payment.ErrConflict
	}
	return records, nil
}

// abandonAllocation rolls back a request that never got off the ground:
// records created so far are marked FAILED so the sweep cannot initiate
// them, and the reservation is released so the same key can retry cleanly.
func (s *DefaultRefundService) abandonAllocation(ctx context.Context, ledgerKey string, records []models.Refund) {
	for i := range records {
		if err := s.Refunds.MarkFailed(ctx, records[i].ID, "allocation_incomplete"); err != nil && !errors.Is(err, refundRepo.ErrAlreadyTerminal) {
			s.Logger.Error("failed to void partial refund record", zap.String("refund", records[i].ID), zap.Error(err))
		}
	}
	if err := s.Ledger.Release(ctx, ledgerKey); err != nil {
		s.Logger.Warn("failed to release refund reservation", zap.String("key", ledgerKey), zap.Error(err))
	}
}

func (s *DefaultRefundService) verifiedTransactions(ctx context.Context, bookingID string) ([]models.PaymentTransaction, error) {
	all, err := s.Txns.ListVerifiedByOwner(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Amount > all[j].Amount })
	return all, nil
}

// initiate drives one record's processor call. Failures are recorded on the
// record, not returned: the request as a whole reports per-record status.
func (s *DefaultRefundService) initiate(ctx context.Context, rec *models.Refund) {
	proc, err := s.Registry.ByName(rec.Processor)
	if err != nil {
		s.Logger.Error("refund references unknown processor", zap.String("refund", rec.ID), zap.Error(err))
		return
	}

	var result *processor.RefundResult
	err = processor.WithRetry(ctx, s.MaxRetries, s.Backoff, s.Timeout, func(ctx context.Context) error {
		var rerr error
		result, rerr = proc.InitiateRefund(ctx, processor.RefundRequest{
			TransactionRef: rec.TransactionRef,
			Amount:         rec.Amount,
			IdempotencyKey: "rf-" + rec.ID,
		})
		return rerr
	})

	switch {
	case err == nil:
		if merr := s.Refunds.MarkProcessing(ctx, rec.ID, result.RefundRef); merr != nil {
			s.Logger.Error("failed to mark refund processing", zap.String("refund", rec.ID), zap.Error(merr))
			return
		}
		rec.Status = models.RefundProcessing
		rec.ProcessorRef = result.RefundRef

	case errors.Is(err, processor.ErrAlreadyRefunded):
		// The processor says the funds are already back; that is success.
		if merr := s.Refunds.MarkSucceeded(ctx, rec.ID); merr != nil && !errors.Is(merr, refundRepo.ErrAlreadyTerminal) {
			s.Logger.Error("failed to mark refund succeeded", zap.String("refund", rec.ID), zap.Error(merr))
			return
		}
		rec.Status = models.RefundSucceeded
		if aerr := s.Payments.ApplyRefundOutcome(ctx, rec.BookingID); aerr != nil {
			s.Logger.Error("failed to apply refund outcome", zap.String("booking", rec.BookingID), zap.Error(aerr))
		}

	case errors.Is(err, processor.ErrUnavailable):
		// Leave PENDING; the reconciliation sweep re-drives it with the
		// same idempotency key.
		s.Logger.Warn("refund initiation unavailable, left pending", zap.String("refund", rec.ID), zap.Error(err))

	default:
		reason := "refund_rejected"
		var de *processor.DeclinedError
		if errors.As(err, &de) {
			reason = de.Code
		}
		if merr := s.Refunds.MarkFailed(ctx, rec.ID, reason); merr != nil && !errors.Is(merr, refundRepo.ErrAlreadyTerminal) {
			s.Logger.Error("failed to mark refund failed", zap.String("refund", rec.ID), zap.Error(merr))
			return
		}
		rec.Status = models.RefundFailed
		rec.FailureReason = reason
	}
}

func (s *DefaultRefundService) GetRefund(ctx context.Context, id string) (*models.Refund, error) {
	return s.Refunds.GetByID(ctx, id)
}

func (s *DefaultRefundService) ListByBooking(ctx context.Context, bookingID string) ([]models.Refund, error) {
	return s.Refunds.ListByBooking(ctx, bookingID)
}

func (s *DefaultRefundService) ApplyRefundEvent(ctx context.Context, ev models.NormalizedEvent) error {
	rec, err := s.Refunds.GetByProcessorRef(ctx, ev.EntityRef)
	if err != nil {
		return err
	}

	switch ev.Type {
	case models.EventRefundSucceeded:
		err := s.Refunds.MarkSucceeded(ctx, rec.ID)
		if errors.Is(err, refundRepo.ErrAlreadyTerminal) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.Payments.ApplyRefundOutcome(ctx, rec.BookingID)

	case models.EventRefundFailed:
		reason := ev.FailureCode
		if reason == "" {
			reason = "refund_failed"
		}
		err := s.Refunds.MarkFailed(ctx, rec.ID, reason)
		if errors.Is(err, refundRepo.ErrAlreadyTerminal) {
			return nil
		}
		return err

	default:
		return fmt.Errorf("refund apply got unexpected event type %s", ev.Type)
	}
}

func (s *DefaultRefundService) RetryPending(ctx context.Context, refundID string) error {
	rec, err := s.Refunds.GetByID(ctx, refundID)
	if err != nil {
		return err
	}
	if rec.Status != models.RefundPending {
		return nil
	}
	s.initiate(ctx, rec)
	return nil
}
