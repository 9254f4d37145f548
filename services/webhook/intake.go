package webhook

import (
	"context"
	"errors"
	"net/http"

	ledgerRepo "paylane/database/repository/ledger"
	"paylane/services/payment"
	"paylane/services/processor"

	"go.uber.org/zap"
)

// ErrAuthenticity is returned when a delivery fails signature or source
// verification. Such deliveries never touch the idempotency ledger.
var ErrAuthenticity = errors.New("webhook authenticity check failed")

// Intake is the shared webhook receive pipeline: verify authenticity, parse
// into the normalized vocabulary, claim the event in the idempotency ledger,
// then dispatch exactly once.
type Intake struct {
	Registry *processor.Registry
	Ledger   ledgerRepo.LedgerRepository
	Dispatch *Dispatcher
	Logger   *zap.Logger
}

// Handle processes one delivery. A nil return means the delivery is settled
// and the processor should receive a 200; a non-nil return means it should
// be redelivered (or, for ErrAuthenticity, rejected).
func (in *Intake) Handle(ctx context.Context, processorName string, payload []byte, headers http.Header, sourceIP string) error {
	proc, err := in.Registry.ByName(processorName)
	if err != nil {
		return err
	}

	if !proc.VerifyWebhookAuthenticity(payload, headers, sourceIP) {
		in.Logger.Warn("rejected webhook delivery",
			zap.String("processor", processorName),
			zap.String("source_ip", sourceIP))
		return ErrAuthenticity
	}

	ev, err := proc.ParseWebhookEvent(payload)
	if err != nil {
		if errors.Is(err, processor.ErrIgnoredEvent) {
			return nil
		}
		return err
	}

	key := "wh:" + processorName + ":" + ev.ProcessorEventID
	if err := in.Ledger.Reserve(ctx, key); err != nil {
		if errors.Is(err, ledgerRepo.ErrDuplicateKey) {
			in.Logger.Debug("duplicate webhook delivery", zap.String("key", key))
			return nil
		}
		return err
	}

	if err := in.Dispatch.Dispatch(ctx, *ev); err != nil {
		if terminalDispatchError(err) {
			// Redelivering cannot fix these; ack and leave the record for
			// manual review.
			in.Logger.Error("webhook event needs manual review",
				zap.String("key", key),
				zap.String("entity_ref", ev.EntityRef),
				zap.Error(err))
			if oerr := in.Ledger.SetOutcome(ctx, key, "error: "+err.Error()); oerr != nil {
				in.Logger.Warn("failed to record event outcome", zap.String("key", key), zap.Error(oerr))
			}
			return nil
		}
		// Free the slot so the processor's redelivery can claim it.
		if rerr := in.Ledger.Release(ctx, key); rerr != nil {
			in.Logger.Error("failed to release webhook reservation", zap.String("key", key), zap.Error(rerr))
		}
		return err
	}

	if err := in.Ledger.SetOutcome(ctx, key, "applied"); err != nil {
		in.Logger.Warn("failed to record event outcome", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func terminalDispatchError(err error) bool {
	var mismatch *payment.AmountMismatchError
	var transition *payment.InvalidTransitionError
	return errors.As(err, &mismatch) || errors.As(err, &transition)
}
