package reconcile

import (
	"context"
	"errors"
	"time"

	ledgerRepo "paylane/database/repository/ledger"
	refundRepo "paylane/database/repository/refund"
	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/processor"
	"paylane/services/refund"
	"paylane/services/webhook"

	"go.uber.org/zap"
)

// Sweeper is the scheduled safety net for lost webhooks: it re-reads stale
// in-flight transactions and refunds from their processor and feeds the
// settled ones through the same dispatcher the webhook intake uses, so both
// paths share one set of duplicate guards.
type Sweeper struct {
	Txns     txnRepo.TransactionRepository
	Refunds  refundRepo.RefundRepository
	RefundOp refund.Service
	Ledger   ledgerRepo.LedgerRepository
	Registry *processor.Registry
	Dispatch *webhook.Dispatcher
	Logger   *zap.Logger

	Staleness time.Duration
	BatchSize int64
}

// Run executes one reconciliation pass.
func (s *Sweeper) Run(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-s.Staleness)

	if err := s.sweepTransactions(ctx, cutoff); err != nil {
		return err
	}
	if err := s.sweepProcessingRefunds(ctx, cutoff); err != nil {
		return err
	}
	return s.sweepPendingRefunds(ctx, cutoff)
}

func (s *Sweeper) sweepTransactions(ctx context.Context, cutoff time.Time) error {
	stale, err := s.Txns.FindStale(ctx, cutoff, s.BatchSize)
	if err != nil {
		return err
	}
	for i := range stale {
		txn := &stale[i]
		if err := s.reconcileTransaction(ctx, txn); err != nil {
			s.Logger.Error("transaction reconcile failed",
				zap.String("txn", txn.ID),
				zap.String("processor_ref", txn.ProcessorRef),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) reconcileTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	proc, err := s.Registry.ByName(txn.Processor)
	if err != nil {
		return err
	}
	result, err := proc.VerifyTransaction(ctx, txn.ProcessorRef)
	if err != nil {
		return err
	}
	if result.Status == processor.VerifyPending {
		return nil // still in flight processor-side, next sweep looks again
	}

	ev := models.NormalizedEvent{
		Type:      models.EventChargeSucceeded,
		EntityRef: txn.ProcessorRef,
		Amount:    result.Amount,
		Currency:  result.Currency,
		Processor: txn.Processor,
	}
	if result.Status == processor.VerifyFailed {
		ev.Type = models.EventChargeFailed
		ev.FailureCode = "reconciled_failed"
	}
	return s.apply(ctx, "reconcile:"+txn.ProcessorRef+":"+result.Status, ev)
}

func (s *Sweeper) sweepProcessingRefunds(ctx context.Context, cutoff time.Time) error {
	stale, err := s.Refunds.FindStaleByStatus(ctx, models.RefundProcessing, cutoff, s.BatchSize)
	if err != nil {
		return err
	}
	for i := range stale {
		rec := &stale[i]
		if err := s.reconcileRefund(ctx, rec); err != nil {
			s.Logger.Error("refund reconcile failed",
				zap.String("refund", rec.ID),
				zap.String("processor_ref", rec.ProcessorRef),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Sweeper) reconcileRefund(ctx context.Context, rec *models.Refund) error {
	proc, err := s.Registry.ByName(rec.Processor)
	if err != nil {
		return err
	}
	result, err := proc.VerifyRefund(ctx, rec.ProcessorRef)
	if err != nil {
		return err
	}
	if result.Status == processor.VerifyPending {
		return nil
	}

	ev := models.NormalizedEvent{
		Type:      models.EventRefundSucceeded,
		EntityRef: rec.ProcessorRef,
		Amount:    result.Amount,
		Currency:  result.Currency,
		Processor: rec.Processor,
	}
	if result.Status == processor.VerifyFailed {
		ev.Type = models.EventRefundFailed
		ev.FailureCode = "reconciled_failed"
	}
	return s.apply(ctx, "reconcile:"+rec.ProcessorRef+":"+result.Status, ev)
}

// apply claims a sweep-scoped ledger key so repeated passes over the same
// settled entity do no repeat work, then dispatches the synthesized event.
func (s *Sweeper) apply(ctx context.Context, key string, ev models.NormalizedEvent) error {
	if err := s.Ledger.Reserve(ctx, key); err != nil {
		if errors.Is(err, ledgerRepo.ErrDuplicateKey) {
			return nil
		}
		return err
	}
	if err := s.Dispatch.Dispatch(ctx, ev); err != nil {
		if rerr := s.Ledger.Release(ctx, key); rerr != nil {
			s.Logger.Error("failed to release reconcile reservation", zap.String("key", key), zap.Error(rerr))
		}
		return err
	}
	return nil
}

// sweepPendingRefunds re-drives refunds whose initiation never got a
// processor answer.
func (s *Sweeper) sweepPendingRefunds(ctx context.Context, cutoff time.Time) error {
	stale, err := s.Refunds.FindStaleByStatus(ctx, models.RefundPending, cutoff, s.BatchSize)
	if err != nil {
		return err
	}
	for i := range stale {
		rec := &stale[i]
		if err := s.RefundOp.RetryPending(ctx, rec.ID); err != nil {
			s.Logger.Error("pending refund retry failed", zap.String("refund", rec.ID), zap.Error(err))
		}
	}
	return nil
}
