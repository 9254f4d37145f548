package webhook

import (
	"context"
	"errors"
	"fmt"

	txnRepo "paylane/database/repository/transaction"
	"paylane/models"
	"paylane/services/payment"
	"paylane/services/refund"
	"paylane/services/subscription"

	"go.uber.org/zap"
)

// ErrUnknownEntity marks an event whose processor reference resolves to no
// record of ours. Usually a delivery that raced the initiating writer;
// treated as transient so the processor redelivers.
var ErrUnknownEntity = errors.New("event references unknown entity")

// Dispatcher routes normalized events to the service that owns the
// referenced entity. Webhook intake and the reconciliation sweep both feed
// it, so every apply path shares one set of duplicate and transition guards.
type Dispatcher struct {
	Txns          txnRepo.TransactionRepository
	Payments      payment.Service
	Subscriptions subscription.Service
	Refunds       refund.Service
	Logger        *zap.Logger
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev models.NormalizedEvent) error {
	switch ev.Type {
	case models.EventChargeSucceeded, models.EventChargeFailed:
		return d.dispatchCharge(ctx, ev)
	case models.EventRefundSucceeded, models.EventRefundFailed:
		return d.Refunds.ApplyRefundEvent(ctx, ev)
	default:
		return fmt.Errorf("dispatcher got unknown event type %s", ev.Type)
	}
}

func (d *Dispatcher) dispatchCharge(ctx context.Context, ev models.NormalizedEvent) error {
	txn, err := d.Txns.GetByProcessorRef(ctx, ev.EntityRef)
	if errors.Is(err, txnRepo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, ev.EntityRef)
	}
	if err != nil {
		return err
	}

	switch txn.OwnerType {
	case models.OwnerBooking:
		return d.Payments.ApplyChargeEvent(ctx, txn, ev)
	case models.OwnerSubscription:
		return d.Subscriptions.ApplyChargeEvent(ctx, txn, ev)
	default:
		return fmt.Errorf("transaction %s has unknown owner type %s", txn.ID, txn.OwnerType)
	}
}
