package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledgerRepo "paylane/database/repository/ledger"
	subRepo "paylane/database/repository/subscription"
	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/notification"
	"paylane/services/processor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepBatchSize = 200

// DefaultSubscriptionService is the production implementation of Service.
type DefaultSubscriptionService struct {
	Repo     subRepo.SubscriptionRepository
	Txns     txnRepo.TransactionRepository
	Ledger   ledgerRepo.LedgerRepository
	Registry *processor.Registry
	Notifier notification.Notifier
	Logger   *zap.Logger

	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

func (s *DefaultSubscriptionService) Onboard(ctx context.Context, req OnboardRequest) (*models.Subscription, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount is required", processor.ErrInvalidRequest)
	}

	proc := s.Registry.ForRegion(req.Region)
	policy := PolicyFor(req.Region, req.Tier)

	sub := &models.Subscription{
		ID:           req.SubscriptionID,
		CustomerRef:  req.CustomerRef,
		Tier:         req.Tier,
		Region:       req.Region,
		Currency:     req.Currency,
		Amount:       req.Amount,
		Processor:    proc.Name(),
		TrialEnabled: policy.Enabled,
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}

	if policy.Enabled {
		// Trial starts with no payment capture at all; the trial-end sweep
		// initiates the first charge.
		end := time.Now().AddDate(0, 0, policy.DurationDays)
		sub.TrialDurationDays = policy.DurationDays
		sub.TrialEnd = &end
		sub.Status = models.SubTrialing
	} else {
		if req.PaymentTransactionRef == "" {
			return nil, fmt.Errorf("%w: tier %s requires a verified payment before onboarding", processor.ErrInvalidRequest, req.Tier)
		}
		var result *processor.VerifyResult
		err := processor.WithRetry(ctx, s.MaxRetries, s.Backoff, s.Timeout, func(ctx context.Context) error {
			var verr error
			result, verr = proc.VerifyTransaction(ctx, req.PaymentTransactionRef)
			return verr
		})
		if err != nil {
			return nil, err
		}
		if result.Status != processor.VerifySucceeded {
			return nil, &processor.DeclinedError{Code: "payment_not_verified", Message: "onboarding payment has not succeeded"}
		}
		sub.Status = models.SubActive
	}

	if err := s.Repo.Create(ctx, sub); err != nil {
		return nil, err
	}

	if !policy.Enabled {
		// Keep the verified onboarding charge on record for audit and for
		// the refundable-amount accounting.
		txn := &models.PaymentTransaction{
			ID:             uuid.New().String(),
			OwnerType:      models.OwnerSubscription,
			OwnerID:        sub.ID,
			Stage:          models.StageSubscription,
			Processor:      sub.Processor,
			ProcessorRef:   req.PaymentTransactionRef,
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			Status:         models.TxnVerified,
			IdempotencyKey: "onboard:" + sub.ID,
		}
		if err := s.Txns.Create(ctx, txn); err != nil {
			s.Logger.Error("failed to record onboarding transaction", zap.String("subscription", sub.ID), zap.Error(err))
		}
	}
	return sub, nil
}

func (s *DefaultSubscriptionService) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return s.Repo.GetByID(ctx, id)
}

func (s *DefaultSubscriptionService) Cancel(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubCanceled {
		return sub, nil
	}
	if err := s.transition(ctx, sub, models.SubCanceled); err != nil {
		return nil, err
	}
	return s.Repo.GetByID(ctx, id)
}

func (s *DefaultSubscriptionService) ApplyChargeEvent(ctx context.Context, txn *models.PaymentTransaction, ev models.NormalizedEvent) error {
	switch ev.Type {
	case models.EventChargeFailed:
		err := s.Txns.MarkFailed(ctx, txn.ID, ev.FailureCode)
		if errors.Is(err, txnRepo.ErrAlreadyTerminal) {
			return nil
		}
		return err

	case models.EventChargeSucceeded:
		err := s.Txns.MarkVerified(ctx, txn.ID)
		if errors.Is(err, txnRepo.ErrAlreadyTerminal) {
			return nil
		}
		if err != nil {
			return err
		}
		sub, err := s.Repo.GetByID(ctx, txn.OwnerID)
		if err != nil {
			return err
		}
		if sub.Status == models.SubTrialing || sub.Status == models.SubPastDue {
			return s.transition(ctx, sub, models.SubActive)
		}
		return nil

	default:
		return fmt.Errorf("subscription apply got unexpected event type %s", ev.Type)
	}
}

func (s *DefaultSubscriptionService) SweepTrials(ctx context.Context, now time.Time) error {
	ended, err := s.Repo.FindTrialingEnded(ctx, now, sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range ended {
		sub := &ended[i]
		if err := s.sweepTrialing(ctx, sub, now); err != nil {
			s.Logger.Error("trial sweep failed for subscription", zap.String("subscription", sub.ID), zap.Error(err))
		}
	}

	// Second grace window: past_due subscriptions whose trial ended longer
	// ago than both windows combined are canceled.
	cancelCutoff := now.AddDate(0, 0, -(GraceDays() + CancelGraceDays()))
	overdue, err := s.Repo.FindPastDue(ctx, cancelCutoff, sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range overdue {
		sub := &overdue[i]
		if err := s.transition(ctx, sub, models.SubCanceled); err != nil {
			s.Logger.Error("failed to cancel overdue subscription", zap.String("subscription", sub.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *DefaultSubscriptionService) sweepTrialing(ctx context.Context, sub *models.Subscription, now time.Time) error {
	charged, err := s.Txns.HasVerifiedStage(ctx, sub.ID, models.StageSubscription)
	if err != nil {
		return err
	}
	if charged {
		return s.transition(ctx, sub, models.SubActive)
	}

	if sub.TrialEnd != nil && now.After(sub.TrialEnd.AddDate(0, 0, GraceDays())) {
		return s.transition(ctx, sub, models.SubPastDue)
	}

	return s.chargeTrialEnd(ctx, sub)
}

// chargeTrialEnd initiates the first real charge for a trial that just
// ended. The derived idempotency key makes repeated sweeps harmless; the
// charge outcome arrives by webhook or reconciliation like any other.
func (s *DefaultSubscriptionService) chargeTrialEnd(ctx context.Context, sub *models.Subscription) error {
	key := "trial-charge:" + sub.ID
	if err := s.Ledger.Reserve(ctx, key); err != nil {
		if errors.Is(err, ledgerRepo.ErrDuplicateKey) {
			return nil // already initiated by an earlier sweep
		}
		return err
	}

	txn := &models.PaymentTransaction{
		ID:             uuid.New().String(),
		OwnerType:      models.OwnerSubscription,
		OwnerID:        sub.ID,
		Stage:          models.StageSubscription,
		Processor:      sub.Processor,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Status:         models.TxnInitiated,
		IdempotencyKey: key,
	}
	if err := s.Txns.Create(ctx, txn); err != nil {
		return err
	}
	if err := s.Ledger.SetOutcome(ctx, key, txn.ID); err != nil {
		s.Logger.Warn("failed to record trial charge outcome", zap.String("key", key), zap.Error(err))
	}

	proc, err := s.Registry.ByName(sub.Processor)
	if err != nil {
		return err
	}
	var result *processor.ChargeResult
	err = processor.WithRetry(ctx, s.MaxRetries, s.Backoff, s.Timeout, func(ctx context.Context) error {
		var cerr error
		result, cerr = proc.InitiateCharge(ctx, processor.ChargeRequest{
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			CustomerRef:    sub.CustomerRef,
			IdempotencyKey: key,
		})
		return cerr
	})
	if err != nil {
		if processor.IsDeclined(err) {
			var de *processor.DeclinedError
			errors.As(err, &de)
			if merr := s.Txns.MarkFailed(ctx, txn.ID, de.Code); merr != nil && !errors.Is(merr, txnRepo.ErrAlreadyTerminal) {
				s.Logger.Error("failed to record trial charge decline", zap.String("txn", txn.ID), zap.Error(merr))
			}
		}
		return err
	}
	return s.Txns.SetProcessorRef(ctx, txn.ID, result.TransactionRef, result.ClientActionToken)
}

// transition applies a status change with one optimistic retry.
func (s *DefaultSubscriptionService) transition(ctx context.Context, sub *models.Subscription, to models.SubscriptionStatus) error {
	err := s.Repo.UpdateStatus(ctx, sub.ID, sub.Version, to)
	if errors.Is(err, subRepo.ErrStaleVersion) {
		fresh, gerr := s.Repo.GetByID(ctx, sub.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.Status == to {
			return nil
		}
		err = s.Repo.UpdateStatus(ctx, fresh.ID, fresh.Version, to)
	}
	if err != nil {
		return err
	}
	if s.Notifier != nil {
		s.Notifier.NotifyTransition(ctx, "subscription", sub.ID, string(to), nil)
	}
	return nil
}
